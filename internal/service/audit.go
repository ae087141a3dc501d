// audit.go — запись аудита вычислений layout.
// Вызывается ровно один раз на каждый resolution (успех или ошибка),
// синхронно после завершения движка. Ошибка записи аудита логируется
// и глотается — она никогда не влияет на результат resolution.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// AuditRecorder — регистратор аудита вычислений.
type AuditRecorder struct {
	repo   repository.ComputationAuditRepository
	logger *slog.Logger
}

// NewAuditRecorder создаёт регистратор аудита.
func NewAuditRecorder(repo repository.ComputationAuditRepository, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		repo:   repo,
		logger: logger.With(slog.String("service", "audit_recorder")),
	}
}

// Record записывает аудит resolution. Возвращает присвоенный audit_id
// или 0, если запись не удалась. Без ретраев, без блокировки.
func (r *AuditRecorder) Record(ctx context.Context, a *model.ComputationAudit) int64 {
	id, err := r.repo.Insert(ctx, a)
	if err != nil {
		r.logger.Error("Ошибка записи аудита вычисления",
			slog.String("user_id", a.UserID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return id
}

// ListByUser возвращает последние записи аудита пользователя.
func (r *AuditRecorder) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ComputationAudit, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return r.repo.ListByUser(ctx, userID, limit)
}

// ListByUserRange возвращает записи аудита пользователя в интервале времени.
func (r *AuditRecorder) ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]*model.ComputationAudit, error) {
	return r.repo.ListByUserRange(ctx, userID, from, to)
}

// Stats возвращает агрегированную статистику вычислений из аудита.
func (r *AuditRecorder) Stats(ctx context.Context) (*repository.PerformanceStats, error) {
	return r.repo.Stats(ctx)
}
