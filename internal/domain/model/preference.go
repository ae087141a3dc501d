package model

import "time"

// Источники вычисления layout (computation_source).
const (
	// SourceCache — результат взят из валидного кэша предпочтений.
	SourceCache = "cache"
	// SourceComputation — результат вычислен заново.
	SourceComputation = "computation"
	// SourceFallback — запись создана напрямую через API предпочтений,
	// без вычисления движком.
	SourceFallback = "fallback"
	// SourceError — resolution завершился ошибкой (только в ответах и аудите).
	SourceError = "error"
)

// UserPreference — закэшированное пользовательское вычисление layout.
// Хранится в таблице user_layout_preferences, одна строка на пользователя.
// Инвариант: CacheExpiry всегда задан (now+4h при создании).
type UserPreference struct {
	// UserID — идентификатор пользователя (первичный ключ)
	UserID string
	// Email — email пользователя (опционально)
	Email *string
	// ComputedLayout — пользовательский layout (jsonb, опционально)
	ComputedLayout Document
	// MarketTheme — тема рынка пользователя (jsonb, опционально)
	MarketTheme Document
	// EffectivePermissions — эффективные права пользователя (jsonb, опционально)
	EffectivePermissions Document
	// PrimaryMarket — основной рынок пользователя
	PrimaryMarket string
	// BaseRoles — базовые роли, использованные при вычислении
	BaseRoles []string
	// CacheExpiry — момент истечения кэша (никогда не NULL)
	CacheExpiry time.Time
	// LastComputedAt — время последнего вычисления
	LastComputedAt time.Time
	// Source — источник записи (cache / computation / fallback)
	Source string
}

// Expired возвращает true, если кэш записи истёк к моменту now.
// Истёкшая запись трактуется как отсутствующая при resolution.
func (p *UserPreference) Expired(now time.Time) bool {
	return !p.CacheExpiry.After(now)
}
