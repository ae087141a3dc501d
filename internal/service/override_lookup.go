// override_lookup.go — поиск групповых overrides для набора DN.
// Сначала кэш-ярус (по хэшу группы), затем backing store одним запросом
// для промахов. Отсутствие override для DN — не ошибка.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// OverrideLookup — поиск применимых групповых overrides.
type OverrideLookup struct {
	repo   repository.GroupOverrideRepository
	cache  *TierCache[*model.GroupOverride]
	logger *slog.Logger
}

// NewOverrideLookup создаёт сервис поиска overrides.
func NewOverrideLookup(
	repo repository.GroupOverrideRepository,
	cache *TierCache[*model.GroupOverride],
	logger *slog.Logger,
) *OverrideLookup {
	return &OverrideLookup{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("service", "override_lookup")),
	}
}

// Lookup возвращает активные overrides для набора DN групп,
// отсортированные по возрастанию priority (tiebreak — ad_group_hash ASC).
// DN без override молча пропускаются.
func (s *OverrideLookup) Lookup(ctx context.Context, groupDNs []string) ([]*model.GroupOverride, error) {
	if len(groupDNs) == 0 {
		return nil, nil
	}

	var matched []*model.GroupOverride
	var missHashes []string
	seen := make(map[string]bool, len(groupDNs))

	// Кэш-ярус: точный поиск по хэшу группы
	for _, dn := range groupDNs {
		hash := adgroup.Hash(dn)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		if o, ok := s.cache.Get(hash); ok {
			matched = append(matched, o)
			continue
		}
		missHashes = append(missHashes, hash)
	}

	// Промахи — одним запросом в backing store
	if len(missHashes) > 0 {
		fromStore, err := s.repo.ListByHashes(ctx, missHashes)
		if err != nil {
			return nil, fmt.Errorf("поиск overrides: %w", err)
		}
		for _, o := range fromStore {
			s.cache.Put(o.GroupHash, o)
			matched = append(matched, o)
		}
	}

	// Стабильный порядок применения: priority ASC, hash ASC
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].GroupHash < matched[j].GroupHash
	})

	return matched, nil
}

// Invalidate удаляет override из кэш-яруса (после изменения через API).
func (s *OverrideLookup) Invalidate(groupHash string) {
	s.cache.Invalidate(groupHash)
}
