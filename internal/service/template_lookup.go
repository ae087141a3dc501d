// template_lookup.go — поиск базовых шаблонов ролей по DN групп.
// Кандидаты ролей извлекаются из DN (adgroup.RoleHint), затем каждый
// кандидат резолвится в активный шаблон точным регистрозависимым поиском.
//
// Результат сохраняет порядок кандидатов и НЕ сортируется по
// layout_priority — в отличие от пути overrides. Эта асимметрия
// воспроизводится намеренно, см. DESIGN.md.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// TemplateLookup — поиск шаблонов ролей.
type TemplateLookup struct {
	repo   repository.RoleTemplateRepository
	cache  *TierCache[*model.RoleTemplate]
	logger *slog.Logger
}

// NewTemplateLookup создаёт сервис поиска шаблонов.
func NewTemplateLookup(
	repo repository.RoleTemplateRepository,
	cache *TierCache[*model.RoleTemplate],
	logger *slog.Logger,
) *TemplateLookup {
	return &TemplateLookup{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("service", "template_lookup")),
	}
}

// Lookup возвращает активные шаблоны для ролей-кандидатов,
// извлечённых из DN групп, в порядке кандидатов.
// Роли без активного шаблона молча пропускаются.
func (s *TemplateLookup) Lookup(ctx context.Context, groupDNs []string) ([]*model.RoleTemplate, error) {
	// Кандидаты ролей в порядке DN, с дедупликацией
	var candidates []string
	seen := make(map[string]bool)
	for _, dn := range groupDNs {
		role, ok := adgroup.RoleHint(dn)
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		candidates = append(candidates, role)
	}

	var matched []*model.RoleTemplate
	for _, role := range candidates {
		if tpl, ok := s.cache.Get(role); ok {
			matched = append(matched, tpl)
			continue
		}

		tpl, err := s.repo.GetByName(ctx, role)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("поиск шаблона роли %q: %w", role, err)
		}

		s.cache.Put(role, tpl)
		matched = append(matched, tpl)
	}

	return matched, nil
}

// Invalidate удаляет шаблон из кэш-яруса (после изменения через API).
func (s *TemplateLookup) Invalidate(roleName string) {
	s.cache.Invalidate(roleName)
}
