// metrics_test.go — unit-тесты нормализации путей для метрик.
package middleware

import "testing"

// TestNormalizePath проверяет замену динамических сегментов на {id}.
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "статический путь health",
			path:     "/health/live",
			expected: "/health/live",
		},
		{
			name:     "статический путь compute",
			path:     "/api/v1/layout/compute",
			expected: "/api/v1/layout/compute",
		},
		{
			name:     "шаблон по имени роли",
			path:     "/api/v1/role-templates/SENIOR_MANAGER",
			expected: "/api/v1/role-templates/{id}",
		},
		{
			name:     "override по хэшу",
			path:     "/api/v1/ad-group-overrides/a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
			expected: "/api/v1/ad-group-overrides/{id}",
		},
		{
			name:     "overrides по рынку",
			path:     "/api/v1/ad-group-overrides/market/EMEA",
			expected: "/api/v1/ad-group-overrides/market/{id}",
		},
		{
			name:     "количество overrides рынка",
			path:     "/api/v1/ad-group-overrides/market/EMEA/count",
			expected: "/api/v1/ad-group-overrides/market/{id}/count",
		},
		{
			name:     "предпочтения пользователя",
			path:     "/api/v1/user-preferences/john.doe",
			expected: "/api/v1/user-preferences/{id}",
		},
		{
			name:     "статический stats не затирается",
			path:     "/api/v1/user-preferences/stats",
			expected: "/api/v1/user-preferences/stats",
		},
		{
			name:     "аудит пользователя",
			path:     "/api/v1/audit/user/john.doe",
			expected: "/api/v1/audit/user/{id}",
		},
		{
			name:     "неизвестный путь возвращается как есть",
			path:     "/unknown",
			expected: "/unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.expected)
			}
		})
	}
}
