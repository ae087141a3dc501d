package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
)

// GroupOverrideRepository — CRUD для таблицы ad_group_layout_overrides.
type GroupOverrideRepository interface {
	// Upsert создаёт или обновляет override по ad_group_hash.
	Upsert(ctx context.Context, o *model.GroupOverride) error
	// GetByHash возвращает активный override по хэшу группы.
	GetByHash(ctx context.Context, groupHash string) (*model.GroupOverride, error)
	// GetByDN возвращает активный override по DN группы.
	GetByDN(ctx context.Context, groupDN string) (*model.GroupOverride, error)
	// ListByHashes возвращает активные overrides для набора хэшей,
	// отсортированные по priority ASC, ad_group_hash ASC.
	// Отсутствующие хэши молча пропускаются.
	ListByHashes(ctx context.Context, hashes []string) ([]*model.GroupOverride, error)
	// ListActive возвращает все активные overrides (priority ASC, hash ASC).
	ListActive(ctx context.Context) ([]*model.GroupOverride, error)
	// ListByMarket возвращает активные overrides рынка (priority ASC, hash ASC).
	ListByMarket(ctx context.Context, market string) ([]*model.GroupOverride, error)
	// ListByFunction возвращает активные overrides функции (priority ASC, hash ASC).
	ListByFunction(ctx context.Context, function string) ([]*model.GroupOverride, error)
	// ListByEnvironment возвращает активные overrides окружения (priority ASC, hash ASC).
	ListByEnvironment(ctx context.Context, environment string) ([]*model.GroupOverride, error)
	// CountByMarket возвращает количество активных overrides рынка.
	CountByMarket(ctx context.Context, market string) (int64, error)
	// Retire переводит override в статус retired (soft delete).
	Retire(ctx context.Context, groupHash string) error
}

// groupOverrideRepo — реализация GroupOverrideRepository.
type groupOverrideRepo struct {
	db DBTX
}

// NewGroupOverrideRepository создаёт репозиторий групповых overrides.
func NewGroupOverrideRepository(db DBTX) GroupOverrideRepository {
	return &groupOverrideRepo{db: db}
}

const ovrColumns = `ad_group_hash, ad_group_dn, parsed_market, parsed_function, parsed_environment,
	layout_overrides, data_restrictions, visual_customizations,
	priority, status, created_at, updated_at`

// Стабильный порядок применения: по возрастанию priority, при равенстве —
// по ad_group_hash (детерминированный tiebreak).
const ovrOrder = `ORDER BY priority ASC, ad_group_hash ASC`

// scanOverride сканирует одну строку в GroupOverride.
func scanOverride(row pgx.Row) (*model.GroupOverride, error) {
	o := &model.GroupOverride{}
	var layout, restrictions, visual []byte
	err := row.Scan(
		&o.GroupHash, &o.GroupDN, &o.Market, &o.Function, &o.Environment,
		&layout, &restrictions, &visual,
		&o.Priority, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.LayoutOverrides = model.Document(layout)
	o.DataRestrictions = model.Document(restrictions)
	o.VisualCustomizations = model.Document(visual)
	return o, nil
}

// listOverrides выполняет запрос и сканирует все строки.
func (r *groupOverrideRepo) listOverrides(ctx context.Context, query string, args ...any) ([]*model.GroupOverride, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка overrides: %w", err)
	}
	defer rows.Close()

	var result []*model.GroupOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования override: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *groupOverrideRepo) Upsert(ctx context.Context, o *model.GroupOverride) error {
	query := `
		INSERT INTO ad_group_layout_overrides (
			ad_group_hash, ad_group_dn, parsed_market, parsed_function, parsed_environment,
			layout_overrides, data_restrictions, visual_customizations, priority, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ad_group_hash) DO UPDATE SET
			ad_group_dn = EXCLUDED.ad_group_dn,
			parsed_market = EXCLUDED.parsed_market,
			parsed_function = EXCLUDED.parsed_function,
			parsed_environment = EXCLUDED.parsed_environment,
			layout_overrides = EXCLUDED.layout_overrides,
			data_restrictions = EXCLUDED.data_restrictions,
			visual_customizations = EXCLUDED.visual_customizations,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		o.GroupHash, o.GroupDN, o.Market, o.Function, o.Environment,
		[]byte(o.LayoutOverrides), []byte(o.DataRestrictions), []byte(o.VisualCustomizations),
		o.Priority, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Уникальность ad_group_dn: другой хэш с тем же DN
			return ErrConflict
		}
		return fmt.Errorf("ошибка upsert override: %w", err)
	}
	return nil
}

func (r *groupOverrideRepo) GetByHash(ctx context.Context, groupHash string) (*model.GroupOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE ad_group_hash = $1 AND status = 'active'`, ovrColumns)

	o, err := scanOverride(r.db.QueryRow(ctx, query, groupHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения override: %w", err)
	}
	return o, nil
}

func (r *groupOverrideRepo) GetByDN(ctx context.Context, groupDN string) (*model.GroupOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE ad_group_dn = $1 AND status = 'active'`, ovrColumns)

	o, err := scanOverride(r.db.QueryRow(ctx, query, groupDN))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения override по DN: %w", err)
	}
	return o, nil
}

func (r *groupOverrideRepo) ListByHashes(ctx context.Context, hashes []string) ([]*model.GroupOverride, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE ad_group_hash = ANY($1) AND status = 'active'
		%s`, ovrColumns, ovrOrder)
	return r.listOverrides(ctx, query, hashes)
}

func (r *groupOverrideRepo) ListActive(ctx context.Context) ([]*model.GroupOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE status = 'active'
		%s`, ovrColumns, ovrOrder)
	return r.listOverrides(ctx, query)
}

func (r *groupOverrideRepo) ListByMarket(ctx context.Context, market string) ([]*model.GroupOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE parsed_market = $1 AND status = 'active'
		%s`, ovrColumns, ovrOrder)
	return r.listOverrides(ctx, query, market)
}

func (r *groupOverrideRepo) ListByFunction(ctx context.Context, function string) ([]*model.GroupOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE parsed_function = $1 AND status = 'active'
		%s`, ovrColumns, ovrOrder)
	return r.listOverrides(ctx, query, function)
}

func (r *groupOverrideRepo) ListByEnvironment(ctx context.Context, environment string) ([]*model.GroupOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ad_group_layout_overrides
		WHERE parsed_environment = $1 AND status = 'active'
		%s`, ovrColumns, ovrOrder)
	return r.listOverrides(ctx, query, environment)
}

func (r *groupOverrideRepo) CountByMarket(ctx context.Context, market string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ad_group_layout_overrides
		 WHERE parsed_market = $1 AND status = 'active'`, market,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта overrides рынка %q: %w", market, err)
	}
	return count, nil
}

func (r *groupOverrideRepo) Retire(ctx context.Context, groupHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE ad_group_layout_overrides SET status = 'retired', updated_at = now()
		 WHERE ad_group_hash = $1 AND status = 'active'`, groupHash)
	if err != nil {
		return fmt.Errorf("ошибка деактивации override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
