package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// TemplateAdmin — административные операции над шаблонами ролей.
// Мутации инвалидируют ярус кэша шаблонов.
type TemplateAdmin struct {
	repo   repository.RoleTemplateRepository
	lookup *TemplateLookup
	logger *slog.Logger
}

// NewTemplateAdmin создаёт сервис администрирования шаблонов.
func NewTemplateAdmin(repo repository.RoleTemplateRepository, lookup *TemplateLookup, logger *slog.Logger) *TemplateAdmin {
	return &TemplateAdmin{
		repo:   repo,
		lookup: lookup,
		logger: logger.With(slog.String("service", "template_admin")),
	}
}

// validateTemplate проверяет обязательные поля шаблона.
func validateTemplate(tpl *model.RoleTemplate) error {
	if strings.TrimSpace(tpl.RoleName) == "" {
		return fmt.Errorf("%w: пустое имя роли", ErrValidation)
	}
	if strings.TrimSpace(tpl.DisplayName) == "" {
		return fmt.Errorf("%w: пустое отображаемое имя", ErrValidation)
	}
	if tpl.LayoutPriority < 0 {
		return fmt.Errorf("%w: отрицательный приоритет", ErrValidation)
	}
	return nil
}

// Create создаёт шаблон роли. ErrConflict при дублировании имени.
func (s *TemplateAdmin) Create(ctx context.Context, tpl *model.RoleTemplate) (*model.RoleTemplate, error) {
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}
	if tpl.Status == "" {
		tpl.Status = model.StatusActive
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: шаблон %q уже существует", ErrConflict, tpl.RoleName)
		}
		return nil, err
	}
	s.logger.Info("Шаблон роли создан", slog.String("role_name", tpl.RoleName))
	return tpl, nil
}

// Update обновляет шаблон по имени роли и инвалидирует кэш.
func (s *TemplateAdmin) Update(ctx context.Context, tpl *model.RoleTemplate) (*model.RoleTemplate, error) {
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tpl); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: шаблон %q", ErrNotFound, tpl.RoleName)
		}
		return nil, err
	}
	s.lookup.Invalidate(tpl.RoleName)
	s.logger.Info("Шаблон роли обновлён", slog.String("role_name", tpl.RoleName))
	return tpl, nil
}

// Get возвращает активный шаблон по точному имени роли.
func (s *TemplateAdmin) Get(ctx context.Context, roleName string) (*model.RoleTemplate, error) {
	tpl, err := s.repo.GetByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: шаблон %q", ErrNotFound, roleName)
		}
		return nil, err
	}
	return tpl, nil
}

// List возвращает все активные шаблоны.
func (s *TemplateAdmin) List(ctx context.Context) ([]*model.RoleTemplate, error) {
	return s.repo.List(ctx)
}

// Count возвращает количество активных шаблонов.
func (s *TemplateAdmin) Count(ctx context.Context) (int64, error) {
	return s.repo.CountActive(ctx)
}

// Retire переводит шаблон в статус retired и инвалидирует кэш.
func (s *TemplateAdmin) Retire(ctx context.Context, roleName string) error {
	if err := s.repo.Retire(ctx, roleName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: шаблон %q", ErrNotFound, roleName)
		}
		return err
	}
	s.lookup.Invalidate(roleName)
	s.logger.Info("Шаблон роли выведен из эксплуатации", slog.String("role_name", roleName))
	return nil
}
