// user_preferences.go — обработчики предпочтений пользователей.
// Записи, созданные через этот API, помечаются источником fallback.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/entitlement/layout-module/internal/api/errors"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/service"
)

// PreferenceHandler — обработчик предпочтений пользователей.
type PreferenceHandler struct {
	preferences *service.PreferenceAdmin
	logger      *slog.Logger
}

// NewPreferenceHandler создаёт обработчик предпочтений.
func NewPreferenceHandler(preferences *service.PreferenceAdmin, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		preferences: preferences,
		logger:      logger.With(slog.String("component", "preference_handler")),
	}
}

// preferenceBody — тело запроса сохранения предпочтений.
type preferenceBody struct {
	UserEmail            *string        `json:"userEmail,omitempty"`
	ComputedLayout       model.Document `json:"computedLayout,omitempty"`
	MarketTheme          model.Document `json:"marketTheme,omitempty"`
	EffectivePermissions model.Document `json:"effectivePermissions,omitempty"`
	PrimaryMarket        string         `json:"primaryMarket,omitempty"`
	BaseRoles            []string       `json:"baseRoles,omitempty"`
}

// preferenceResponse — представление записи предпочтений в ответах API.
type preferenceResponse struct {
	UserID               string         `json:"userId"`
	UserEmail            *string        `json:"userEmail,omitempty"`
	ComputedLayout       model.Document `json:"computedLayout"`
	MarketTheme          model.Document `json:"marketTheme"`
	EffectivePermissions model.Document `json:"effectivePermissions"`
	PrimaryMarket        string         `json:"primaryMarket"`
	BaseRoles            []string       `json:"baseRoles"`
	CacheExpiry          string         `json:"cacheExpiry"`
	LastComputedAt       string         `json:"lastComputedAt"`
	ComputationSource    string         `json:"computationSource"`
	Expired              bool           `json:"expired"`
}

func toPreferenceResponse(p *model.UserPreference) preferenceResponse {
	return preferenceResponse{
		UserID:               p.UserID,
		UserEmail:            p.Email,
		ComputedLayout:       p.ComputedLayout,
		MarketTheme:          p.MarketTheme,
		EffectivePermissions: p.EffectivePermissions,
		PrimaryMarket:        p.PrimaryMarket,
		BaseRoles:            p.BaseRoles,
		CacheExpiry:          p.CacheExpiry.UTC().Format(time.RFC3339),
		LastComputedAt:       p.LastComputedAt.UTC().Format(time.RFC3339),
		ComputationSource:    p.Source,
		Expired:              p.Expired(time.Now()),
	}
}

// Get — GET /api/v1/user-preferences/{userId}.
// Возвращает запись, включая истёкшую (с флагом expired).
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.preferences.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreferenceResponse(p))
}

// Save — PUT /api/v1/user-preferences/{userId}.
func (h *PreferenceHandler) Save(w http.ResponseWriter, r *http.Request) {
	var body preferenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	p, err := h.preferences.Save(r.Context(), &model.UserPreference{
		UserID:               chi.URLParam(r, "userId"),
		Email:                body.UserEmail,
		ComputedLayout:       body.ComputedLayout,
		MarketTheme:          body.MarketTheme,
		EffectivePermissions: body.EffectivePermissions,
		PrimaryMarket:        body.PrimaryMarket,
		BaseRoles:            body.BaseRoles,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreferenceResponse(p))
}

// Delete — DELETE /api/v1/user-preferences/{userId}.
func (h *PreferenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.preferences.Delete(r.Context(), chi.URLParam(r, "userId")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteExpired — DELETE /api/v1/user-preferences/expired.
// Немедленная зачистка истёкших записей вне фонового цикла.
func (h *PreferenceHandler) DeleteExpired(w http.ResponseWriter, r *http.Request) {
	removed, err := h.preferences.DeleteExpired(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": removed})
}

// Stats — GET /api/v1/user-preferences/stats.
func (h *PreferenceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.preferences.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"validEntries":   stats.Valid,
		"expiredEntries": stats.Expired,
		"cacheTier":      stats.Tier,
	})
}
