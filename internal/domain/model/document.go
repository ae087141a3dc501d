// Пакет model — доменные сущности Layout Module.
// Document — непрозрачное JSON-значение (jsonb в PostgreSQL).
// Движок слияния копирует документы без интерпретации структуры,
// проверяется только наличие/отсутствие.
package model

import "errors"

// Document — сырое JSON-значение (объект, массив или скаляр).
// nil означает отсутствие значения (NULL в БД).
type Document []byte

// IsEmpty возвращает true, если документ отсутствует.
// Литерал null (из тела запроса) тоже считается отсутствием.
func (d Document) IsEmpty() bool {
	return len(d) == 0 || string(d) == "null"
}

// MarshalJSON возвращает документ как есть, без повторной сериализации.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON сохраняет копию входных байт.
func (d *Document) UnmarshalJSON(data []byte) error {
	if d == nil {
		return errors.New("model.Document: UnmarshalJSON на nil указателе")
	}
	*d = append((*d)[0:0], data...)
	return nil
}
