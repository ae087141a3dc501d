package model

import "time"

// GroupOverride — групповое переопределение layout.
// Хранится в таблице ad_group_layout_overrides.
// Первичный ключ — стабильный SHA-256 хэш DN группы,
// дополнительный уникальный индекс — по самому DN.
type GroupOverride struct {
	// GroupHash — SHA-256 хэш DN группы (hex, 64 символа)
	GroupHash string
	// GroupDN — исходный DN группы (например, CN=EMEA-Senior-Managers,OU=...)
	GroupDN string
	// Market — рынок, извлечённый из DN (EMEA, UK, US, APAC, GLOBAL)
	Market string
	// Function — функция, извлечённая из DN (опционально)
	Function *string
	// Environment — окружение, извлечённое из DN (опционально)
	Environment *string
	// LayoutOverrides — переопределения layout (jsonb, опционально)
	LayoutOverrides Document
	// DataRestrictions — ограничения данных (jsonb, опционально)
	DataRestrictions Document
	// VisualCustomizations — визуальные настройки (jsonb, опционально)
	VisualCustomizations Document
	// Priority — приоритет применения (меньше = выше приоритет при сортировке;
	// см. семантику слияния в service.LayoutService)
	Priority int
	// Status — active / retired
	Status Status
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
