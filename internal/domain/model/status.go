package model

// Status — статус записи (soft delete через смену статуса,
// записи физически не удаляются).
type Status string

const (
	// StatusActive — запись активна и участвует в resolution.
	StatusActive Status = "active"
	// StatusRetired — запись выведена из обращения (soft delete).
	StatusRetired Status = "retired"
)

// Valid проверяет, является ли значение допустимым статусом.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusRetired
}
