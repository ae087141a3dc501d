package model

import "time"

// CacheStatus — классификация состояния кэша предпочтений при resolution.
type CacheStatus string

const (
	// CacheHit — валидная запись предпочтений найдена.
	CacheHit CacheStatus = "hit"
	// CacheMiss — запись предпочтений отсутствует.
	CacheMiss CacheStatus = "miss"
	// CacheExpired — запись найдена, но её cache_expiry в прошлом.
	CacheExpired CacheStatus = "expired"
)

// Именованные секции итогового layout.
const (
	SectionDefaultColumns       = "defaultColumns"
	SectionAvailableWidgets     = "availableWidgets"
	SectionDefaultActions       = "defaultActions"
	SectionSettingsAccess       = "settingsAccess"
	SectionDefaultTheme         = "defaultTheme"
	SectionGroupLayoutOverride  = "adGroupLayoutOverride"
	SectionDataRestrictions     = "dataRestrictions"
	SectionVisualCustomizations = "visualCustomizations"
	SectionUserComputedLayout   = "userComputedLayout"
	SectionUserMarketTheme      = "userMarketTheme"
	SectionUserPermissions      = "userEffectivePermissions"
)

// FinalLayout — итог resolution: слитый layout плюс метаданные вычисления.
type FinalLayout struct {
	// UserID — пользователь, для которого вычислен layout
	UserID string
	// Sections — именованные секции layout (непрозрачные JSON-документы)
	Sections map[string]Document
	// Market — итоговый код рынка (EMEA, UK, US, APAC, GLOBAL)
	Market string
	// CacheStatus — hit / miss / expired
	CacheStatus CacheStatus
	// Source — cache / computation
	Source string
	// ComputationTimeMs — длительность вычисления в миллисекундах
	ComputationTimeMs int64
	// Timestamp — момент завершения вычисления
	Timestamp time.Time
}
