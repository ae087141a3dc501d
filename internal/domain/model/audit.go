package model

import "time"

// ComputationAudit — append-only запись аудита одного resolution.
// Хранится в таблице layout_computation_audit.
// Инвариант: ровно одна запись на каждую попытку resolution,
// независимо от успеха или ошибки.
type ComputationAudit struct {
	// AuditID — автоинкрементный идентификатор
	AuditID int64
	// UserID — пользователь
	UserID string
	// UserEmail — email пользователя (может быть пустым)
	UserEmail string
	// GroupDNs — входные DN групп в порядке запроса
	GroupDNs []string
	// MatchedOverrides — сериализованные сработавшие overrides (jsonb)
	MatchedOverrides Document
	// BaseRoles — использованные базовые роли
	BaseRoles []string
	// Steps — упорядоченные шаги вычисления (jsonb)
	Steps Document
	// ConflictResolutions — заметки о разрешении конфликтов (jsonb)
	ConflictResolutions Document
	// FinalLayout — снимок итогового layout (jsonb, пустой при ошибке)
	FinalLayout Document
	// ComputationTimeMs — длительность вычисления в миллисекундах
	ComputationTimeMs int64
	// CacheStatus — hit / miss / expired
	CacheStatus CacheStatus
	// Source — cache / computation / error
	Source string
	// CreatedAt — время записи
	CreatedAt time.Time
}
