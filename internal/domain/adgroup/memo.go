// memo.go — LRU-кэш разобранных атрибутов DN с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
// DN групп повторяются от запроса к запросу, разбор мемоизируется.
package adgroup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша разбора.
var (
	parseCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_adgroup_parse_cache_hits_total",
		Help: "Общее количество попаданий в кэш разобранных DN групп.",
	})
	parseCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_adgroup_parse_cache_misses_total",
		Help: "Общее количество промахов кэша разобранных DN групп.",
	})
)

// ParseCache — мемоизирующий кэш атрибутов DN групп.
// Каждый экземпляр Layout Module имеет собственный in-memory кэш.
type ParseCache struct {
	cache *expirable.LRU[string, Attributes]
}

// NewParseCache создаёт кэш с указанным максимальным размером и TTL.
func NewParseCache(maxSize int, ttl time.Duration) *ParseCache {
	return &ParseCache{
		cache: expirable.NewLRU[string, Attributes](maxSize, nil, ttl),
	}
}

// Parse возвращает атрибуты DN, используя кэш.
// Результат идентичен adgroup.Parse — разбор детерминированный.
func (c *ParseCache) Parse(groupDN string) Attributes {
	if attrs, ok := c.cache.Get(groupDN); ok {
		parseCacheHitsTotal.Inc()
		return attrs
	}
	parseCacheMissesTotal.Inc()

	attrs := Parse(groupDN)
	c.cache.Add(groupDN, attrs)
	return attrs
}

// Len возвращает текущее количество записей в кэше.
func (c *ParseCache) Len() int {
	return c.cache.Len()
}
