// cache.go — кэш-ярусы Layout Module с TTL и LRU-вытеснением.
// Обёртка над jellydator/ttlcache/v3: TTL на запись (expire-after-write),
// ограничение ёмкости, явный DeleteExpired для фонового обслуживания.
// Три независимых яруса: предпочтения (4h/10000), шаблоны (1h/1000),
// overrides (30m/5000) — каждый создаётся и передаётся явно,
// без глобального состояния.
package service

import (
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэш-ярусов.
var (
	tierCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_cache_hits_total",
		Help: "Общее количество попаданий в кэш-ярусы Layout Module.",
	}, []string{"tier"})
	tierCacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_cache_misses_total",
		Help: "Общее количество промахов кэш-ярусов Layout Module.",
	}, []string{"tier"})
)

// TierStats — счётчики hit/miss яруса для отчётности аудита.
type TierStats struct {
	// Tier — имя яруса
	Tier string `json:"tier"`
	// Hits — количество попаданий
	Hits uint64 `json:"hits"`
	// Misses — количество промахов
	Misses uint64 `json:"misses"`
	// Entries — текущее количество записей
	Entries int `json:"entries"`
}

// TierCache — один кэш-ярус с TTL и ограничением ёмкости.
// Каждый экземпляр Layout Module имеет собственные in-memory ярусы.
type TierCache[V any] struct {
	tier   string
	cache  *ttlcache.Cache[string, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTierCache создаёт кэш-ярус с указанными именем, ёмкостью и TTL.
// TTL считается от записи (expire-after-write): чтение не продлевает
// срок жизни — свежесть данных важнее hit rate.
func NewTierCache[V any](tier string, capacity int, ttl time.Duration) *TierCache[V] {
	cache := ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithCapacity[string, V](uint64(capacity)),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	return &TierCache[V]{
		tier:  tier,
		cache: cache,
	}
}

// Get возвращает значение по ключу или (zero, false) при промахе.
// Истёкшие записи считаются отсутствующими.
func (c *TierCache[V]) Get(key string) (V, bool) {
	item := c.cache.Get(key)
	if item == nil {
		c.misses.Add(1)
		tierCacheMissesTotal.WithLabelValues(c.tier).Inc()
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	tierCacheHitsTotal.WithLabelValues(c.tier).Inc()
	return item.Value(), true
}

// Put добавляет или обновляет запись с TTL яруса.
func (c *TierCache[V]) Put(key string, value V) {
	c.cache.Set(key, value, ttlcache.DefaultTTL)
}

// PutTTL добавляет запись с индивидуальным TTL
// (например, остаток срока действия записи предпочтений).
func (c *TierCache[V]) PutTTL(key string, value V, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

// Invalidate удаляет запись из яруса.
func (c *TierCache[V]) Invalidate(key string) {
	c.cache.Delete(key)
}

// EvictExpired удаляет все истёкшие записи.
// Вызывается фоновым обслуживанием; блокирует только вытесняемые записи.
func (c *TierCache[V]) EvictExpired() {
	c.cache.DeleteExpired()
}

// Stats возвращает счётчики hit/miss и размер яруса.
func (c *TierCache[V]) Stats() TierStats {
	return TierStats{
		Tier:    c.tier,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.Len(),
	}
}
