package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// PreferenceStats — статистика хранилища предпочтений.
type PreferenceStats struct {
	// Valid — количество неистёкших записей в store
	Valid int64
	// Expired — количество истёкших записей в store
	Expired int64
	// Tier — статистика яруса кэша предпочтений
	Tier TierStats
}

// PreferenceAdmin — операции над предпочтениями пользователей через API.
// Записи, созданные здесь, помечаются источником fallback — движок
// слияния переносит их payload-поля при write-back без изменений.
type PreferenceAdmin struct {
	repo    repository.UserPreferenceRepository
	tier    *TierCache[*model.UserPreference]
	prefTTL time.Duration
	logger  *slog.Logger
}

// NewPreferenceAdmin создаёт сервис предпочтений пользователей.
func NewPreferenceAdmin(repo repository.UserPreferenceRepository, tier *TierCache[*model.UserPreference], prefTTL time.Duration, logger *slog.Logger) *PreferenceAdmin {
	return &PreferenceAdmin{
		repo:    repo,
		tier:    tier,
		prefTTL: prefTTL,
		logger:  logger.With(slog.String("service", "preference_admin")),
	}
}

// Get возвращает запись предпочтений пользователя, включая истёкшие.
func (s *PreferenceAdmin) Get(ctx context.Context, userID string) (*model.UserPreference, error) {
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: предпочтения пользователя %s", ErrNotFound, userID)
		}
		return nil, err
	}
	return p, nil
}

// Save создаёт или перезаписывает запись предпочтений пользователя.
// Срок действия при отсутствии выставляется в now+TTL.
func (s *PreferenceAdmin) Save(ctx context.Context, p *model.UserPreference) (*model.UserPreference, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("%w: пустой userId", ErrValidation)
	}
	now := time.Now()
	if p.CacheExpiry.IsZero() {
		p.CacheExpiry = now.Add(s.prefTTL)
	}
	if p.LastComputedAt.IsZero() {
		p.LastComputedAt = now
	}
	if p.PrimaryMarket == "" {
		p.PrimaryMarket = "GLOBAL"
	}
	p.Source = model.SourceFallback

	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	// Ярус обязан увидеть свежую запись сразу
	if remaining := time.Until(p.CacheExpiry); remaining > 0 {
		s.tier.PutTTL(p.UserID, p, remaining)
	} else {
		s.tier.Invalidate(p.UserID)
	}
	s.logger.Info("Предпочтения пользователя сохранены", slog.String("user_id", p.UserID))
	return p, nil
}

// Delete удаляет запись пользователя из store и яруса кэша.
func (s *PreferenceAdmin) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: предпочтения пользователя %s", ErrNotFound, userID)
		}
		return err
	}
	s.tier.Invalidate(userID)
	s.logger.Info("Предпочтения пользователя удалены", slog.String("user_id", userID))
	return nil
}

// DeleteExpired удаляет все истёкшие записи из store.
func (s *PreferenceAdmin) DeleteExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("Удалены истёкшие предпочтения", slog.Int64("count", removed))
	}
	return removed, nil
}

// Stats возвращает статистику хранилища и яруса кэша предпочтений.
func (s *PreferenceAdmin) Stats(ctx context.Context) (*PreferenceStats, error) {
	valid, err := s.repo.CountValid(ctx)
	if err != nil {
		return nil, err
	}
	expired, err := s.repo.CountExpired(ctx)
	if err != nil {
		return nil, err
	}
	return &PreferenceStats{
		Valid:   valid,
		Expired: expired,
		Tier:    s.tier.Stats(),
	}, nil
}
