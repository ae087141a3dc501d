// Пакет config — загрузка и валидация конфигурации Layout Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Layout Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь БД
	DBUser string
	// Пароль БД
	DBPassword string
	// Режим SSL (disable, require, verify-full)
	DBSSLMode string

	// --- Кэш-ярусы ---

	// Размер яруса предпочтений пользователей (по умолчанию 10000)
	PrefCacheSize int
	// TTL яруса предпочтений (по умолчанию 4h)
	PrefCacheTTL time.Duration
	// Размер яруса шаблонов ролей (по умолчанию 1000)
	TemplateCacheSize int
	// TTL яруса шаблонов (по умолчанию 1h)
	TemplateCacheTTL time.Duration
	// Размер яруса overrides (по умолчанию 5000)
	OverrideCacheSize int
	// TTL яруса overrides (по умолчанию 30m)
	OverrideCacheTTL time.Duration
	// Размер кэша разобранных DN групп (по умолчанию 10000)
	ParseCacheSize int
	// TTL кэша разобранных DN (по умолчанию 1h)
	ParseCacheTTL time.Duration

	// --- Фоновое обслуживание ---

	// Интервал фонового обслуживания кэшей и БД (по умолчанию 10m)
	MaintenanceInterval time.Duration
	// Срок хранения записей аудита (по умолчанию 2160h = 90 дней)
	AuditRetention time.Duration

	// --- JWT (опционально) ---

	// Включена ли JWT-аутентификация (по умолчанию false —
	// основная валидация токенов на API Gateway)
	AuthEnabled bool
	// URL JWKS endpoint IdP
	JWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Путь к CA-сертификату для TLS к IdP (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS (по умолчанию 10s)
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей (по умолчанию 1h)
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT (по умолчанию 30s)
	JWTLeeway time.Duration

	// --- Dephealth (topologymetrics) ---

	// Включён ли мониторинг зависимостей (по умолчанию true)
	DephealthEnabled bool
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 30s)
	DephealthCheckInterval time.Duration
	// Помечать зависимости как entry point (DEPHEALTH_ISENTRY)
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("LM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("LM_PORT: %w", err)
	}

	// LM_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("LM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("LM_LOG_LEVEL: %w", err)
	}

	// LM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("LM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("LM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("LM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("LM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("LM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("LM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("LM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("LM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("LM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("LM_DB_SSL_MODE", "disable")

	// --- Кэш-ярусы ---
	// Дефолты соответствуют профилю данных: предпочтения — 4h/10000,
	// шаблоны — 1h/1000, overrides — 30m/5000.

	cfg.PrefCacheSize, err = getEnvInt("LM_PREF_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("LM_PREF_CACHE_SIZE: %w", err)
	}
	cfg.PrefCacheTTL, err = getEnvDuration("LM_PREF_CACHE_TTL", 4*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LM_PREF_CACHE_TTL: %w", err)
	}
	cfg.TemplateCacheSize, err = getEnvInt("LM_TEMPLATE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("LM_TEMPLATE_CACHE_SIZE: %w", err)
	}
	cfg.TemplateCacheTTL, err = getEnvDuration("LM_TEMPLATE_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LM_TEMPLATE_CACHE_TTL: %w", err)
	}
	cfg.OverrideCacheSize, err = getEnvInt("LM_OVERRIDE_CACHE_SIZE", 5000)
	if err != nil {
		return nil, fmt.Errorf("LM_OVERRIDE_CACHE_SIZE: %w", err)
	}
	cfg.OverrideCacheTTL, err = getEnvDuration("LM_OVERRIDE_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LM_OVERRIDE_CACHE_TTL: %w", err)
	}
	cfg.ParseCacheSize, err = getEnvInt("LM_PARSE_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("LM_PARSE_CACHE_SIZE: %w", err)
	}
	cfg.ParseCacheTTL, err = getEnvDuration("LM_PARSE_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LM_PARSE_CACHE_TTL: %w", err)
	}

	// --- Фоновое обслуживание ---

	cfg.MaintenanceInterval, err = getEnvDuration("LM_MAINTENANCE_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LM_MAINTENANCE_INTERVAL: %w", err)
	}
	cfg.AuditRetention, err = getEnvDuration("LM_AUDIT_RETENTION", 90*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LM_AUDIT_RETENTION: %w", err)
	}

	// --- JWT ---

	cfg.AuthEnabled, err = getEnvBool("LM_AUTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("LM_AUTH_ENABLED: %w", err)
	}
	if cfg.AuthEnabled {
		cfg.JWKSURL, err = getEnvRequired("LM_JWKS_URL")
		if err != nil {
			return nil, err
		}
		cfg.JWTIssuer = getEnvDefault("LM_JWT_ISSUER", "")
	}
	cfg.CACertPath = getEnvDefault("LM_CA_CERT_PATH", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("LM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("LM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("LM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWT_LEEWAY: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthEnabled, err = getEnvBool("LM_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("LM_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("LM_DEPHEALTH_GROUP", "entitlement")
	cfg.DephealthCheckInterval, err = getEnvDuration("LM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения (для dephealth-лейблов).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает длительность из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
