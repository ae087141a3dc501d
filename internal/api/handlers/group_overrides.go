// group_overrides.go — CRUD обработчики групповых overrides.
// Хэш и разобранные атрибуты всегда вычисляются на сервере из DN.
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

// OverrideHandler — обработчик групповых overrides.
type OverrideHandler struct {
	overrides *service.OverrideAdmin
	logger    *slog.Logger
}

// NewOverrideHandler создаёт обработчик групповых overrides.
func NewOverrideHandler(overrides *service.OverrideAdmin, logger *slog.Logger) *OverrideHandler {
	return &OverrideHandler{
		overrides: overrides,
		logger:    logger.With(slog.String("component", "override_handler")),
	}
}

// overrideBody — тело запроса создания/обновления override.
type overrideBody struct {
	ADGroupDN            string         `json:"adGroupDn"`
	LayoutOverrides      model.Document `json:"layoutOverrides,omitempty"`
	DataRestrictions     model.Document `json:"dataRestrictions,omitempty"`
	VisualCustomizations model.Document `json:"visualCustomizations,omitempty"`
	Priority             int            `json:"priority"`
}

// overrideResponse — представление override в ответах API.
type overrideResponse struct {
	ADGroupHash          string         `json:"adGroupHash"`
	ADGroupDN            string         `json:"adGroupDn"`
	Market               string         `json:"parsedMarket"`
	Function             *string        `json:"parsedFunction,omitempty"`
	Environment          *string        `json:"parsedEnvironment,omitempty"`
	LayoutOverrides      model.Document `json:"layoutOverrides"`
	DataRestrictions     model.Document `json:"dataRestrictions"`
	VisualCustomizations model.Document `json:"visualCustomizations"`
	Priority             int            `json:"priority"`
	Status               model.Status   `json:"status"`
	CreatedAt            string         `json:"createdAt"`
	UpdatedAt            string         `json:"updatedAt"`
}

func toOverrideResponse(o *model.GroupOverride) overrideResponse {
	return overrideResponse{
		ADGroupHash:          o.GroupHash,
		ADGroupDN:            o.GroupDN,
		Market:               o.Market,
		Function:             o.Function,
		Environment:          o.Environment,
		LayoutOverrides:      o.LayoutOverrides,
		DataRestrictions:     o.DataRestrictions,
		VisualCustomizations: o.VisualCustomizations,
		Priority:             o.Priority,
		Status:               o.Status,
		CreatedAt:            o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeOverrideList(w http.ResponseWriter, overrides []*model.GroupOverride) {
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverrideResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// Upsert — POST /api/v1/ad-group-overrides.
func (h *OverrideHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var body overrideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	o, err := h.overrides.Upsert(r.Context(), body.ADGroupDN, &model.GroupOverride{
		LayoutOverrides:      body.LayoutOverrides,
		DataRestrictions:     body.DataRestrictions,
		VisualCustomizations: body.VisualCustomizations,
		Priority:             body.Priority,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideResponse(o))
}

// Get — GET /api/v1/ad-group-overrides/{hash}.
func (h *OverrideHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.overrides.GetByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideResponse(o))
}

// GetByDN — POST /api/v1/ad-group-overrides/by-dn.
// DN передаётся в теле: он содержит запятые и знаки равенства,
// небезопасные в сегменте пути.
func (h *OverrideHandler) GetByDN(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ADGroupDN string `json:"adGroupDn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	o, err := h.overrides.GetByDN(r.Context(), body.ADGroupDN)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideResponse(o))
}

// BulkLookup — POST /api/v1/ad-group-overrides/bulk-lookup.
// Возвращает активные overrides для набора DN в порядке применения.
func (h *OverrideHandler) BulkLookup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ADGroups []string `json:"adGroups"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	overrides, err := h.overrides.BulkLookup(r.Context(), body.ADGroups)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOverrideList(w, overrides)
}

// List — GET /api/v1/ad-group-overrides.
func (h *OverrideHandler) List(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.overrides.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOverrideList(w, overrides)
}

// ListByMarket — GET /api/v1/ad-group-overrides/market/{market}.
func (h *OverrideHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.overrides.ListByMarket(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOverrideList(w, overrides)
}

// ListByFunction — GET /api/v1/ad-group-overrides/function/{function}.
func (h *OverrideHandler) ListByFunction(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.overrides.ListByFunction(r.Context(), chi.URLParam(r, "function"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOverrideList(w, overrides)
}

// ListByEnvironment — GET /api/v1/ad-group-overrides/environment/{environment}.
func (h *OverrideHandler) ListByEnvironment(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.overrides.ListByEnvironment(r.Context(), chi.URLParam(r, "environment"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOverrideList(w, overrides)
}

// CountByMarket — GET /api/v1/ad-group-overrides/market/{market}/count.
func (h *OverrideHandler) CountByMarket(w http.ResponseWriter, r *http.Request) {
	count, err := h.overrides.CountByMarket(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// Retire — DELETE /api/v1/ad-group-overrides/{hash} (soft delete).
func (h *OverrideHandler) Retire(w http.ResponseWriter, r *http.Request) {
	if err := h.overrides.Retire(r.Context(), chi.URLParam(r, "hash")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
