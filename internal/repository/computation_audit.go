package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
)

// PerformanceStats — агрегированная статистика вычислений из аудита.
type PerformanceStats struct {
	// TotalRequests — общее количество resolution
	TotalRequests int64
	// AvgTimeMs — средняя длительность вычисления
	AvgTimeMs float64
	// MaxTimeMs — максимальная длительность
	MaxTimeMs int64
	// MinTimeMs — минимальная длительность
	MinTimeMs int64
	// CacheHits — количество cache hits
	CacheHits int64
	// CacheMisses — количество cache misses (включая expired)
	CacheMisses int64
}

// ComputationAuditRepository — append-only доступ к таблице layout_computation_audit.
type ComputationAuditRepository interface {
	// Insert добавляет запись аудита, возвращает присвоенный audit_id.
	Insert(ctx context.Context, a *model.ComputationAudit) (int64, error)
	// ListByUser возвращает записи пользователя (новые первыми).
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.ComputationAudit, error)
	// ListByUserRange возвращает записи пользователя в интервале времени.
	ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]*model.ComputationAudit, error)
	// Stats возвращает агрегированную статистику по всем записям.
	Stats(ctx context.Context) (*PerformanceStats, error)
	// DeleteOlderThan удаляет записи старше cutoff (retention).
	// Возвращает количество удалённых строк.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// computationAuditRepo — реализация ComputationAuditRepository.
type computationAuditRepo struct {
	db DBTX
}

// NewComputationAuditRepository создаёт репозиторий аудита вычислений.
func NewComputationAuditRepository(db DBTX) ComputationAuditRepository {
	return &computationAuditRepo{db: db}
}

const auditColumns = `audit_id, user_id, user_email, ad_group_dns, matched_overrides, base_roles,
	computation_steps, conflict_resolutions, final_layout,
	computation_time_ms, cache_status, computation_source, created_at`

// scanAudit сканирует одну строку в ComputationAudit.
func scanAudit(row pgx.Row) (*model.ComputationAudit, error) {
	a := &model.ComputationAudit{}
	var matched, steps, conflicts, layout []byte
	err := row.Scan(
		&a.AuditID, &a.UserID, &a.UserEmail, &a.GroupDNs, &matched, &a.BaseRoles,
		&steps, &conflicts, &layout,
		&a.ComputationTimeMs, &a.CacheStatus, &a.Source, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.MatchedOverrides = model.Document(matched)
	a.Steps = model.Document(steps)
	a.ConflictResolutions = model.Document(conflicts)
	a.FinalLayout = model.Document(layout)
	return a, nil
}

func (r *computationAuditRepo) Insert(ctx context.Context, a *model.ComputationAudit) (int64, error) {
	query := `
		INSERT INTO layout_computation_audit (
			user_id, user_email, ad_group_dns, matched_overrides, base_roles,
			computation_steps, conflict_resolutions, final_layout,
			computation_time_ms, cache_status, computation_source
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING audit_id, created_at`

	err := r.db.QueryRow(ctx, query,
		a.UserID, a.UserEmail, a.GroupDNs,
		[]byte(a.MatchedOverrides), a.BaseRoles,
		[]byte(a.Steps), []byte(a.ConflictResolutions), []byte(a.FinalLayout),
		a.ComputationTimeMs, a.CacheStatus, a.Source,
	).Scan(&a.AuditID, &a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи аудита вычисления: %w", err)
	}
	return a.AuditID, nil
}

func (r *computationAuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ComputationAudit, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM layout_computation_audit
		WHERE user_id = $1
		ORDER BY created_at DESC, audit_id DESC
		LIMIT $2`, auditColumns)
	return r.listAudits(ctx, query, userID, limit)
}

func (r *computationAuditRepo) ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]*model.ComputationAudit, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM layout_computation_audit
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC, audit_id DESC`, auditColumns)
	return r.listAudits(ctx, query, userID, from, to)
}

// listAudits выполняет запрос и сканирует все строки.
func (r *computationAuditRepo) listAudits(ctx context.Context, query string, args ...any) ([]*model.ComputationAudit, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.ComputationAudit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *computationAuditRepo) Stats(ctx context.Context) (*PerformanceStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(AVG(computation_time_ms), 0),
			COALESCE(MAX(computation_time_ms), 0),
			COALESCE(MIN(computation_time_ms), 0),
			COUNT(*) FILTER (WHERE cache_status = 'hit'),
			COUNT(*) FILTER (WHERE cache_status IN ('miss', 'expired'))
		FROM layout_computation_audit`

	stats := &PerformanceStats{}
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.TotalRequests, &stats.AvgTimeMs, &stats.MaxTimeMs, &stats.MinTimeMs,
		&stats.CacheHits, &stats.CacheMisses,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики аудита: %w", err)
	}
	return stats, nil
}

func (r *computationAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM layout_computation_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления старых записей аудита: %w", err)
	}
	return tag.RowsAffected(), nil
}
