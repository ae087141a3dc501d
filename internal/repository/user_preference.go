package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
)

// UserPreferenceRepository — доступ к таблице user_layout_preferences.
// Одна строка на пользователя, перезаписывается при каждом свежем вычислении.
type UserPreferenceRepository interface {
	// Upsert создаёт или перезаписывает запись предпочтений пользователя.
	Upsert(ctx context.Context, p *model.UserPreference) error
	// Get возвращает запись по user_id (включая истёкшие — проверка
	// срока действия остаётся за вызывающим).
	Get(ctx context.Context, userID string) (*model.UserPreference, error)
	// Delete удаляет запись пользователя.
	Delete(ctx context.Context, userID string) error
	// DeleteExpired удаляет все записи с истёкшим cache_expiry.
	// Возвращает количество удалённых строк.
	DeleteExpired(ctx context.Context) (int64, error)
	// CountValid возвращает количество неистёкших записей.
	CountValid(ctx context.Context) (int64, error)
	// CountExpired возвращает количество истёкших записей.
	CountExpired(ctx context.Context) (int64, error)
}

// userPreferenceRepo — реализация UserPreferenceRepository.
type userPreferenceRepo struct {
	db DBTX
}

// NewUserPreferenceRepository создаёт репозиторий предпочтений пользователей.
func NewUserPreferenceRepository(db DBTX) UserPreferenceRepository {
	return &userPreferenceRepo{db: db}
}

const prefColumns = `user_id, user_email, computed_layout, market_theme, effective_permissions,
	primary_market, base_roles, cache_expiry, last_computed_at, computation_source`

func (r *userPreferenceRepo) Upsert(ctx context.Context, p *model.UserPreference) error {
	query := `
		INSERT INTO user_layout_preferences (
			user_id, user_email, computed_layout, market_theme, effective_permissions,
			primary_market, base_roles, cache_expiry, last_computed_at, computation_source
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			user_email = EXCLUDED.user_email,
			computed_layout = EXCLUDED.computed_layout,
			market_theme = EXCLUDED.market_theme,
			effective_permissions = EXCLUDED.effective_permissions,
			primary_market = EXCLUDED.primary_market,
			base_roles = EXCLUDED.base_roles,
			cache_expiry = EXCLUDED.cache_expiry,
			last_computed_at = EXCLUDED.last_computed_at,
			computation_source = EXCLUDED.computation_source`

	_, err := r.db.Exec(ctx, query,
		p.UserID, p.Email,
		[]byte(p.ComputedLayout), []byte(p.MarketTheme), []byte(p.EffectivePermissions),
		p.PrimaryMarket, p.BaseRoles, p.CacheExpiry, p.LastComputedAt, p.Source,
	)
	if err != nil {
		return fmt.Errorf("ошибка upsert предпочтений пользователя %q: %w", p.UserID, err)
	}
	return nil
}

func (r *userPreferenceRepo) Get(ctx context.Context, userID string) (*model.UserPreference, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_layout_preferences WHERE user_id = $1`, prefColumns)

	p := &model.UserPreference{}
	var layout, theme, perms []byte
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Email, &layout, &theme, &perms,
		&p.PrimaryMarket, &p.BaseRoles, &p.CacheExpiry, &p.LastComputedAt, &p.Source,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения предпочтений пользователя %q: %w", userID, err)
	}
	p.ComputedLayout = model.Document(layout)
	p.MarketTheme = model.Document(theme)
	p.EffectivePermissions = model.Document(perms)
	return p, nil
}

func (r *userPreferenceRepo) Delete(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_layout_preferences WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления предпочтений пользователя %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userPreferenceRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_layout_preferences WHERE cache_expiry < now()`)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления истёкших предпочтений: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *userPreferenceRepo) CountValid(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_layout_preferences WHERE cache_expiry >= now()`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта валидных предпочтений: %w", err)
	}
	return count, nil
}

func (r *userPreferenceRepo) CountExpired(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_layout_preferences WHERE cache_expiry < now()`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта истёкших предпочтений: %w", err)
	}
	return count, nil
}
