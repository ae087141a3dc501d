package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
)

// RoleTemplateRepository — CRUD для таблицы role_layout_templates.
type RoleTemplateRepository interface {
	// Create создаёт шаблон роли. ErrConflict при дублировании role_name.
	Create(ctx context.Context, tpl *model.RoleTemplate) error
	// Update обновляет шаблон по role_name. ErrNotFound если шаблон не существует.
	Update(ctx context.Context, tpl *model.RoleTemplate) error
	// GetByName возвращает активный шаблон по точному имени роли
	// (регистрозависимо — основной путь поиска).
	GetByName(ctx context.Context, roleName string) (*model.RoleTemplate, error)
	// List возвращает все активные шаблоны.
	List(ctx context.Context) ([]*model.RoleTemplate, error)
	// CountActive возвращает количество активных шаблонов.
	CountActive(ctx context.Context) (int64, error)
	// Retire переводит шаблон в статус retired (soft delete).
	Retire(ctx context.Context, roleName string) error
}

// roleTemplateRepo — реализация RoleTemplateRepository.
type roleTemplateRepo struct {
	db DBTX
}

// NewRoleTemplateRepository создаёт репозиторий шаблонов ролей.
func NewRoleTemplateRepository(db DBTX) RoleTemplateRepository {
	return &roleTemplateRepo{db: db}
}

const tplColumns = `id, role_name, role_display_name, role_description,
	default_columns, available_widgets, default_actions, settings_access, default_theme,
	layout_priority, market_applicable, environment_types, status, created_at, updated_at`

// scanTemplate сканирует одну строку в RoleTemplate.
func scanTemplate(row pgx.Row) (*model.RoleTemplate, error) {
	tpl := &model.RoleTemplate{}
	var cols, widgets, actions, settings, theme []byte
	err := row.Scan(
		&tpl.ID, &tpl.RoleName, &tpl.DisplayName, &tpl.Description,
		&cols, &widgets, &actions, &settings, &theme,
		&tpl.LayoutPriority, &tpl.Markets, &tpl.Environments,
		&tpl.Status, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tpl.DefaultColumns = model.Document(cols)
	tpl.AvailableWidgets = model.Document(widgets)
	tpl.DefaultActions = model.Document(actions)
	tpl.SettingsAccess = model.Document(settings)
	tpl.DefaultTheme = model.Document(theme)
	return tpl, nil
}

func (r *roleTemplateRepo) Create(ctx context.Context, tpl *model.RoleTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}

	query := `
		INSERT INTO role_layout_templates (
			id, role_name, role_display_name, role_description,
			default_columns, available_widgets, default_actions, settings_access, default_theme,
			layout_priority, market_applicable, environment_types, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		tpl.ID, tpl.RoleName, tpl.DisplayName, tpl.Description,
		[]byte(tpl.DefaultColumns), []byte(tpl.AvailableWidgets),
		[]byte(tpl.DefaultActions), []byte(tpl.SettingsAccess), []byte(tpl.DefaultTheme),
		tpl.LayoutPriority, tpl.Markets, tpl.Environments, tpl.Status,
	).Scan(&tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания шаблона роли: %w", err)
	}
	return nil
}

func (r *roleTemplateRepo) Update(ctx context.Context, tpl *model.RoleTemplate) error {
	query := `
		UPDATE role_layout_templates SET
			role_display_name = $2,
			role_description = $3,
			default_columns = $4,
			available_widgets = $5,
			default_actions = $6,
			settings_access = $7,
			default_theme = $8,
			layout_priority = $9,
			market_applicable = $10,
			environment_types = $11,
			status = $12,
			updated_at = now()
		WHERE role_name = $1
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		tpl.RoleName, tpl.DisplayName, tpl.Description,
		[]byte(tpl.DefaultColumns), []byte(tpl.AvailableWidgets),
		[]byte(tpl.DefaultActions), []byte(tpl.SettingsAccess), []byte(tpl.DefaultTheme),
		tpl.LayoutPriority, tpl.Markets, tpl.Environments, tpl.Status,
	).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления шаблона роли: %w", err)
	}
	return nil
}

func (r *roleTemplateRepo) GetByName(ctx context.Context, roleName string) (*model.RoleTemplate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM role_layout_templates
		WHERE role_name = $1 AND status = 'active'`, tplColumns)

	tpl, err := scanTemplate(r.db.QueryRow(ctx, query, roleName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения шаблона роли %q: %w", roleName, err)
	}
	return tpl, nil
}

func (r *roleTemplateRepo) List(ctx context.Context) ([]*model.RoleTemplate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM role_layout_templates
		WHERE status = 'active'
		ORDER BY role_name`, tplColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка шаблонов ролей: %w", err)
	}
	defer rows.Close()

	var result []*model.RoleTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования шаблона роли: %w", err)
		}
		result = append(result, tpl)
	}
	return result, rows.Err()
}

func (r *roleTemplateRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM role_layout_templates WHERE status = 'active'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта шаблонов ролей: %w", err)
	}
	return count, nil
}

func (r *roleTemplateRepo) Retire(ctx context.Context, roleName string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE role_layout_templates SET status = 'retired', updated_at = now()
		 WHERE role_name = $1 AND status = 'active'`, roleName)
	if err != nil {
		return fmt.Errorf("ошибка деактивации шаблона роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
