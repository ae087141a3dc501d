package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// Maintenance — периодическое обслуживание: зачистка истёкших записей
// в ярусах кэша, удаление истёкших предпочтений из store и ротация
// старых записей аудита.
type Maintenance struct {
	prefs     repository.UserPreferenceRepository
	audit     repository.ComputationAuditRepository
	tiers     []Evictable
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// Evictable — ярус кэша, поддерживающий зачистку истёкших записей.
type Evictable interface {
	EvictExpired()
}

// NewMaintenance создаёт цикл обслуживания.
// interval — период между проходами, retention — срок хранения аудита.
func NewMaintenance(
	prefs repository.UserPreferenceRepository,
	audit repository.ComputationAuditRepository,
	tiers []Evictable,
	interval, retention time.Duration,
	logger *slog.Logger,
) *Maintenance {
	return &Maintenance{
		prefs:     prefs,
		audit:     audit,
		tiers:     tiers,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("service", "maintenance")),
	}
}

// Run запускает цикл обслуживания до отмены контекста.
// Вызывается в отдельной горутине из main.
func (m *Maintenance) Run(ctx context.Context) {
	m.logger.Info("Цикл обслуживания запущен",
		slog.Duration("interval", m.interval),
		slog.Duration("retention", m.retention),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Цикл обслуживания остановлен")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep выполняет один проход обслуживания.
func (m *Maintenance) sweep(ctx context.Context) {
	for _, tier := range m.tiers {
		tier.EvictExpired()
	}

	removed, err := m.prefs.DeleteExpired(ctx)
	if err != nil {
		m.logger.Error("Ошибка удаления истёкших предпочтений",
			slog.String("error", err.Error()))
	} else if removed > 0 {
		m.logger.Info("Удалены истёкшие предпочтения",
			slog.Int64("count", removed))
	}

	rotated, err := m.audit.DeleteOlderThan(ctx, time.Now().Add(-m.retention))
	if err != nil {
		m.logger.Error("Ошибка ротации аудита",
			slog.String("error", err.Error()))
	} else if rotated > 0 {
		m.logger.Info("Ротация аудита выполнена",
			slog.Int64("count", rotated))
	}
}
