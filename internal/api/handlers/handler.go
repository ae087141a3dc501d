// handler.go — основной обработчик API Layout Module.
// Объединяет все доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/entitlement/layout-module/internal/api/errors"
	"github.com/bigkaa/entitlement/layout-module/internal/service"
)

// APIHandler — основной обработчик API Layout Module.
type APIHandler struct {
	Health      *HealthHandler
	Layout      *LayoutHandler
	Templates   *TemplateHandler
	Overrides   *OverrideHandler
	Preferences *PreferenceHandler
	Audit       *AuditHandler
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	layout *LayoutHandler,
	templates *TemplateHandler,
	overrides *OverrideHandler,
	preferences *PreferenceHandler,
	audit *AuditHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		Health:      health,
		Layout:      layout,
		Templates:   templates,
		Overrides:   overrides,
		Preferences: preferences,
		Audit:       audit,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError маппит ошибки сервисного слоя в HTTP-ответы.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// queryInt разбирает целочисленный query-параметр с дефолтом.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
