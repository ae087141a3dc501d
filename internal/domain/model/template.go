package model

import "time"

// RoleTemplate — базовый шаблон layout для роли.
// Хранится в таблице role_layout_templates.
type RoleTemplate struct {
	// ID — UUID записи
	ID string
	// RoleName — уникальное имя роли (SENIOR_MANAGER, MANAGER, ANALYST, ...)
	RoleName string
	// DisplayName — человекочитаемое имя роли
	DisplayName string
	// Description — описание роли (опционально)
	Description *string
	// DefaultColumns — колонки layout по умолчанию (jsonb)
	DefaultColumns Document
	// AvailableWidgets — доступный набор виджетов (jsonb)
	AvailableWidgets Document
	// DefaultActions — действия по умолчанию (jsonb)
	DefaultActions Document
	// SettingsAccess — доступ к настройкам (jsonb)
	SettingsAccess Document
	// DefaultTheme — тема по умолчанию (jsonb, опционально)
	DefaultTheme Document
	// LayoutPriority — приоритет шаблона (меньше = выше приоритет)
	LayoutPriority int
	// Markets — рынки, к которым применим шаблон
	Markets []string
	// Environments — окружения, к которым применим шаблон
	Environments []string
	// Status — active / retired
	Status Status
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
