// Точка входа Layout Module — сервис resolution UI-прав.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт кэш-ярусы, движок слияния и API handlers, запускает фоновые
// задачи (обслуживание кэшей, topologymetrics), HTTP-сервер с JWT
// middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/entitlement/layout-module/internal/api/handlers"
	"github.com/bigkaa/entitlement/layout-module/internal/api/middleware"
	"github.com/bigkaa/entitlement/layout-module/internal/config"
	"github.com/bigkaa/entitlement/layout-module/internal/database"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
	"github.com/bigkaa/entitlement/layout-module/internal/server"
	"github.com/bigkaa/entitlement/layout-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Layout Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("LM_DEPHEALTH_GROUP") == "" {
		logger.Warn("LM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	tplRepo := repository.NewRoleTemplateRepository(pool)
	ovrRepo := repository.NewGroupOverrideRepository(pool)
	prefRepo := repository.NewUserPreferenceRepository(pool)
	auditRepo := repository.NewComputationAuditRepository(pool)

	// 6. Кэш-ярусы
	prefTier := service.NewTierCache[*model.UserPreference]("preferences", cfg.PrefCacheSize, cfg.PrefCacheTTL)
	tplTier := service.NewTierCache[*model.RoleTemplate]("templates", cfg.TemplateCacheSize, cfg.TemplateCacheTTL)
	ovrTier := service.NewTierCache[*model.GroupOverride]("overrides", cfg.OverrideCacheSize, cfg.OverrideCacheTTL)
	parseCache := adgroup.NewParseCache(cfg.ParseCacheSize, cfg.ParseCacheTTL)

	// 7. Services
	overrideLookup := service.NewOverrideLookup(ovrRepo, ovrTier, logger)
	templateLookup := service.NewTemplateLookup(tplRepo, tplTier, logger)
	auditRecorder := service.NewAuditRecorder(auditRepo, logger)
	layoutSvc := service.NewLayoutService(
		prefRepo, overrideLookup, templateLookup, prefTier,
		auditRecorder, parseCache, cfg.PrefCacheTTL, logger,
	)
	templateAdmin := service.NewTemplateAdmin(tplRepo, templateLookup, logger)
	overrideAdmin := service.NewOverrideAdmin(ovrRepo, overrideLookup, logger)
	preferenceAdmin := service.NewPreferenceAdmin(prefRepo, prefTier, cfg.PrefCacheTTL, logger)

	// 8. Фоновое обслуживание: зачистка кэшей, истёкших предпочтений
	// и ротация аудита
	maintenance := service.NewMaintenance(
		prefRepo, auditRepo,
		[]service.Evictable{prefTier, tplTier, ovrTier},
		cfg.MaintenanceInterval, cfg.AuditRetention, logger,
	)
	maintCtx, maintCancel := context.WithCancel(ctx)
	defer maintCancel()
	go maintenance.Run(maintCtx)

	// 9. Dephealth (topologymetrics)
	if cfg.DephealthEnabled {
		dephealthSvc, err := service.NewDephealthService(
			"layout-module",
			cfg.DephealthGroup,
			pgDB,
			cfg.DatabaseURL(),
			cfg.DephealthCheckInterval,
			cfg.DephealthIsEntry,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания dephealth", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Error("Ошибка запуска dephealth", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer dephealthSvc.Stop()
	} else {
		logger.Info("Мониторинг зависимостей отключён (LM_DEPHEALTH_ENABLED=false)")
	}

	// 10. API handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(database.NewReadinessChecker(pool)),
		handlers.NewLayoutHandler(layoutSvc, logger),
		handlers.NewTemplateHandler(templateAdmin, logger),
		handlers.NewOverrideHandler(overrideAdmin, logger),
		handlers.NewPreferenceHandler(preferenceAdmin, logger),
		handlers.NewAuditHandler(auditRecorder, logger),
		logger,
	)

	// 11. Middleware: метрики, логирование, опционально JWT
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	}
	if cfg.AuthEnabled {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWKSURL,
			cfg.CACertPath,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		// Health и метрики доступны без токена
		middlewares = append(middlewares, server.JWTAuthWithExclusions(
			jwtAuth.Middleware(),
			"/health/", "/metrics",
		))
		logger.Info("JWT-аутентификация включена", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		logger.Info("JWT-аутентификация отключена (LM_AUTH_ENABLED=false)")
	}

	// 12. HTTP-сервер с graceful shutdown
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
