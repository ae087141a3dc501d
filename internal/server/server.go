// Пакет server — HTTP-сервер Layout Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/entitlement/layout-module/internal/api/handlers"
	"github.com/bigkaa/entitlement/layout-module/internal/config"
)

// Server — HTTP-сервер Layout Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// middlewares — дополнительные middleware (metrics, logging, JWT),
// добавляются в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, middlewares ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()

	for _, mw := range middlewares {
		router.Use(mw)
	}

	// Health и метрики
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Главная операция: вычисление итогового layout
		r.Post("/layout/compute", h.Layout.Compute)

		// Шаблоны ролей
		r.Route("/role-templates", func(r chi.Router) {
			r.Post("/", h.Templates.Create)
			r.Get("/", h.Templates.List)
			r.Get("/count", h.Templates.Count)
			r.Get("/{roleName}", h.Templates.Get)
			r.Put("/{roleName}", h.Templates.Update)
			r.Delete("/{roleName}", h.Templates.Retire)
		})

		// Групповые overrides
		r.Route("/ad-group-overrides", func(r chi.Router) {
			r.Post("/", h.Overrides.Upsert)
			r.Get("/", h.Overrides.List)
			r.Post("/by-dn", h.Overrides.GetByDN)
			r.Post("/bulk-lookup", h.Overrides.BulkLookup)
			r.Get("/market/{market}", h.Overrides.ListByMarket)
			r.Get("/market/{market}/count", h.Overrides.CountByMarket)
			r.Get("/function/{function}", h.Overrides.ListByFunction)
			r.Get("/environment/{environment}", h.Overrides.ListByEnvironment)
			r.Get("/{hash}", h.Overrides.Get)
			r.Delete("/{hash}", h.Overrides.Retire)
		})

		// Предпочтения пользователей
		r.Route("/user-preferences", func(r chi.Router) {
			r.Delete("/expired", h.Preferences.DeleteExpired)
			r.Get("/stats", h.Preferences.Stats)
			r.Get("/{userId}", h.Preferences.Get)
			r.Put("/{userId}", h.Preferences.Save)
			r.Delete("/{userId}", h.Preferences.Delete)
		})

		// Аудит вычислений (только чтение)
		r.Route("/audit", func(r chi.Router) {
			r.Get("/user/{userId}", h.Audit.ListByUser)
			r.Get("/performance-stats", h.Audit.PerformanceStats)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// JWTAuthWithExclusions оборачивает middleware, пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без middleware.
func JWTAuthWithExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			mw(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
