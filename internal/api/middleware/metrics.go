// metrics.go — Prometheus HTTP метрики для Layout Module.
// Регистрирует метрики: lm_http_requests_total, lm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Layout Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Layout Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем динамические сегменты на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет динамические сегменты пути на {id} для
// предотвращения взрывного роста кардинальности метрик.
// /api/v1/user-preferences/john.doe → /api/v1/user-preferences/{id}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/layout/compute",
		"/api/v1/role-templates",
		"/api/v1/role-templates/count",
		"/api/v1/ad-group-overrides",
		"/api/v1/ad-group-overrides/bulk-lookup",
		"/api/v1/ad-group-overrides/by-dn",
		"/api/v1/user-preferences/expired",
		"/api/v1/user-preferences/stats",
		"/api/v1/audit/performance-stats":
		return path
	}

	// Динамические пути: последний сегмент — идентификатор
	prefixes := []struct {
		prefix string
		result string
	}{
		{"/api/v1/role-templates/", "/api/v1/role-templates/{id}"},
		{"/api/v1/ad-group-overrides/market/", "/api/v1/ad-group-overrides/market/{id}"},
		{"/api/v1/ad-group-overrides/function/", "/api/v1/ad-group-overrides/function/{id}"},
		{"/api/v1/ad-group-overrides/environment/", "/api/v1/ad-group-overrides/environment/{id}"},
		{"/api/v1/ad-group-overrides/", "/api/v1/ad-group-overrides/{id}"},
		{"/api/v1/user-preferences/", "/api/v1/user-preferences/{id}"},
		{"/api/v1/audit/user/", "/api/v1/audit/user/{id}"},
	}

	for _, p := range prefixes {
		if strings.HasPrefix(path, p.prefix) && len(path) > len(p.prefix) {
			// Суффикс count после сегмента рынка
			if p.result == "/api/v1/ad-group-overrides/market/{id}" &&
				strings.HasSuffix(path, "/count") {
				return p.result + "/count"
			}
			return p.result
		}
	}

	return path
}
