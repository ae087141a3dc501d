package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// OverrideAdmin — административные операции над групповыми overrides.
// Хэш и разобранные атрибуты ВСЕГДА вычисляются на сервере из DN —
// клиентские значения игнорируются. Мутации инвалидируют ярус кэша.
type OverrideAdmin struct {
	repo   repository.GroupOverrideRepository
	lookup *OverrideLookup
	logger *slog.Logger
}

// NewOverrideAdmin создаёт сервис администрирования overrides.
func NewOverrideAdmin(repo repository.GroupOverrideRepository, lookup *OverrideLookup, logger *slog.Logger) *OverrideAdmin {
	return &OverrideAdmin{
		repo:   repo,
		lookup: lookup,
		logger: logger.With(slog.String("service", "override_admin")),
	}
}

// Upsert создаёт или обновляет override по DN группы.
// Хэш и атрибуты рынка/функции/окружения выводятся из DN.
func (s *OverrideAdmin) Upsert(ctx context.Context, groupDN string, o *model.GroupOverride) (*model.GroupOverride, error) {
	if strings.TrimSpace(groupDN) == "" {
		return nil, fmt.Errorf("%w: пустой DN группы", ErrValidation)
	}
	if o.Priority < 0 {
		return nil, fmt.Errorf("%w: отрицательный приоритет", ErrValidation)
	}

	attrs := adgroup.Parse(groupDN)
	o.GroupDN = groupDN
	o.GroupHash = adgroup.Hash(groupDN)
	o.Market = attrs.Market
	o.Function = nil
	o.Environment = nil
	if attrs.Function != "" {
		f := attrs.Function
		o.Function = &f
	}
	if attrs.Environment != "" {
		e := attrs.Environment
		o.Environment = &e
	}
	if o.Status == "" {
		o.Status = model.StatusActive
	}

	if err := s.repo.Upsert(ctx, o); err != nil {
		return nil, err
	}
	s.lookup.Invalidate(o.GroupHash)
	s.logger.Info("Override сохранён",
		slog.String("ad_group_hash", o.GroupHash),
		slog.String("market", o.Market),
		slog.Int("priority", o.Priority),
	)
	return o, nil
}

// GetByHash возвращает активный override по хэшу группы.
func (s *OverrideAdmin) GetByHash(ctx context.Context, groupHash string) (*model.GroupOverride, error) {
	o, err := s.repo.GetByHash(ctx, groupHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: override %s", ErrNotFound, groupHash)
		}
		return nil, err
	}
	return o, nil
}

// GetByDN возвращает активный override по DN группы.
func (s *OverrideAdmin) GetByDN(ctx context.Context, groupDN string) (*model.GroupOverride, error) {
	o, err := s.repo.GetByDN(ctx, groupDN)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: override для DN", ErrNotFound)
		}
		return nil, err
	}
	return o, nil
}

// BulkLookup возвращает активные overrides для набора DN
// в порядке применения (priority ASC, hash ASC).
func (s *OverrideAdmin) BulkLookup(ctx context.Context, groupDNs []string) ([]*model.GroupOverride, error) {
	if len(groupDNs) == 0 {
		return nil, fmt.Errorf("%w: пустой список групп", ErrValidation)
	}
	return s.lookup.Lookup(ctx, groupDNs)
}

// List возвращает все активные overrides.
func (s *OverrideAdmin) List(ctx context.Context) ([]*model.GroupOverride, error) {
	return s.repo.ListActive(ctx)
}

// ListByMarket возвращает активные overrides рынка.
func (s *OverrideAdmin) ListByMarket(ctx context.Context, market string) ([]*model.GroupOverride, error) {
	return s.repo.ListByMarket(ctx, strings.ToUpper(market))
}

// ListByFunction возвращает активные overrides функции.
func (s *OverrideAdmin) ListByFunction(ctx context.Context, function string) ([]*model.GroupOverride, error) {
	return s.repo.ListByFunction(ctx, function)
}

// ListByEnvironment возвращает активные overrides окружения.
func (s *OverrideAdmin) ListByEnvironment(ctx context.Context, environment string) ([]*model.GroupOverride, error) {
	return s.repo.ListByEnvironment(ctx, strings.ToUpper(environment))
}

// CountByMarket возвращает количество активных overrides рынка.
func (s *OverrideAdmin) CountByMarket(ctx context.Context, market string) (int64, error) {
	return s.repo.CountByMarket(ctx, strings.ToUpper(market))
}

// Retire переводит override в статус retired и инвалидирует кэш.
func (s *OverrideAdmin) Retire(ctx context.Context, groupHash string) error {
	if err := s.repo.Retire(ctx, groupHash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: override %s", ErrNotFound, groupHash)
		}
		return err
	}
	s.lookup.Invalidate(groupHash)
	s.logger.Info("Override выведен из эксплуатации", slog.String("ad_group_hash", groupHash))
	return nil
}
