// Пакет adgroup — разбор DN групп каталога.
// Извлекает рынок, функцию, окружение и подсказку роли из непрозрачного
// идентификатора группы (substring-матчинг по фиксированному словарю).
// Все функции чистые: без побочных эффектов и без ошибок.
package adgroup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MarketGlobal — sentinel-рынок при отсутствии совпадений.
const MarketGlobal = "GLOBAL"

// markets — литералы рынков в порядке проверки.
// Порядок значим: "UK" проверяется после "EMEA" (см. ResolveMarket).
var markets = []string{"EMEA", "UK", "US", "APAC"}

// functions — словарь функций: токен в DN → код функции.
var functions = []struct {
	token string
	code  string
}{
	{"Support", "SUPPORT"},
	{"Sales", "SALES"},
	{"Operations", "OPERATIONS"},
	{"Analytics", "ANALYTICS"},
}

// environments — словарь окружений: токен в DN → код окружения.
var environments = []struct {
	token string
	code  string
}{
	{"PROD", "PROD"},
	{"UAT", "UAT"},
	{"QA", "QA"},
	{"DEV", "DEV"},
}

// roleHints — подсказки ролей: токен в DN → имя роли.
// Порядок значим: "Senior-Managers" содержит "Managers" и должен
// проверяться первым.
var roleHints = []struct {
	token string
	role  string
}{
	{"Senior-Managers", "SENIOR_MANAGER"},
	{"Managers", "MANAGER"},
	{"Analysts", "ANALYST"},
}

// Attributes — структурированные атрибуты, извлечённые из DN группы.
type Attributes struct {
	// Market — код рынка (EMEA, UK, US, APAC) или GLOBAL
	Market string
	// Function — код функции (SUPPORT, SALES, ...) или пусто
	Function string
	// Environment — код окружения (PROD, UAT, QA, DEV) или пусто
	Environment string
}

// Parse извлекает атрибуты из одного DN группы.
// Рынок при отсутствии совпадения — GLOBAL, функция и окружение — пустые.
func Parse(groupDN string) Attributes {
	attrs := Attributes{Market: MarketGlobal}

	for _, m := range markets {
		if strings.Contains(groupDN, m) {
			attrs.Market = m
			break
		}
	}
	for _, f := range functions {
		if strings.Contains(groupDN, f.token) {
			attrs.Function = f.code
			break
		}
	}
	for _, e := range environments {
		if strings.Contains(groupDN, e.token) {
			attrs.Environment = e.code
			break
		}
	}
	return attrs
}

// RoleHint извлекает подсказку роли из DN группы.
// Отсутствие совпадения — не ошибка: возвращается ("", false).
func RoleHint(groupDN string) (string, bool) {
	for _, h := range roleHints {
		if strings.Contains(groupDN, h.token) {
			return h.role, true
		}
	}
	return "", false
}

// ResolveMarket возвращает рынок для списка DN групп: первый литерал,
// найденный при сканировании списка по порядку, иначе GLOBAL.
// Зависимость от порядка списка намеренная и должна сохраняться —
// она определяет видимый рынок/тему для неоднозначных пользователей.
func ResolveMarket(groupDNs []string) string {
	for _, dn := range groupDNs {
		for _, m := range markets {
			if strings.Contains(dn, m) {
				return m
			}
		}
	}
	return MarketGlobal
}

// Hash возвращает стабильный SHA-256 хэш DN группы (hex, 64 символа).
// Используется как первичный ключ overrides и как ключ кэша.
func Hash(groupDN string) string {
	sum := sha256.Sum256([]byte(groupDN))
	return hex.EncodeToString(sum[:])
}
