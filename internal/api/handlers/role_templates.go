// role_templates.go — CRUD обработчики шаблонов ролей.
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

// TemplateHandler — обработчик шаблонов ролей.
type TemplateHandler struct {
	templates *service.TemplateAdmin
	logger    *slog.Logger
}

// NewTemplateHandler создаёт обработчик шаблонов ролей.
func NewTemplateHandler(templates *service.TemplateAdmin, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{
		templates: templates,
		logger:    logger.With(slog.String("component", "template_handler")),
	}
}

// templateBody — тело запроса создания/обновления шаблона.
type templateBody struct {
	RoleName         string         `json:"roleName"`
	DisplayName      string         `json:"roleDisplayName"`
	Description      *string        `json:"roleDescription,omitempty"`
	DefaultColumns   model.Document `json:"defaultColumns,omitempty"`
	AvailableWidgets model.Document `json:"availableWidgets,omitempty"`
	DefaultActions   model.Document `json:"defaultActions,omitempty"`
	SettingsAccess   model.Document `json:"settingsAccess,omitempty"`
	DefaultTheme     model.Document `json:"defaultTheme,omitempty"`
	LayoutPriority   int            `json:"layoutPriority"`
	Markets          []string       `json:"marketApplicable,omitempty"`
	Environments     []string       `json:"environmentTypes,omitempty"`
}

// templateResponse — представление шаблона в ответах API.
type templateResponse struct {
	ID               string         `json:"id"`
	RoleName         string         `json:"roleName"`
	DisplayName      string         `json:"roleDisplayName"`
	Description      *string        `json:"roleDescription,omitempty"`
	DefaultColumns   model.Document `json:"defaultColumns"`
	AvailableWidgets model.Document `json:"availableWidgets"`
	DefaultActions   model.Document `json:"defaultActions"`
	SettingsAccess   model.Document `json:"settingsAccess"`
	DefaultTheme     model.Document `json:"defaultTheme"`
	LayoutPriority   int            `json:"layoutPriority"`
	Markets          []string       `json:"marketApplicable"`
	Environments     []string       `json:"environmentTypes"`
	Status           model.Status   `json:"status"`
	CreatedAt        string         `json:"createdAt"`
	UpdatedAt        string         `json:"updatedAt"`
}

func toTemplateResponse(tpl *model.RoleTemplate) templateResponse {
	return templateResponse{
		ID:               tpl.ID,
		RoleName:         tpl.RoleName,
		DisplayName:      tpl.DisplayName,
		Description:      tpl.Description,
		DefaultColumns:   tpl.DefaultColumns,
		AvailableWidgets: tpl.AvailableWidgets,
		DefaultActions:   tpl.DefaultActions,
		SettingsAccess:   tpl.SettingsAccess,
		DefaultTheme:     tpl.DefaultTheme,
		LayoutPriority:   tpl.LayoutPriority,
		Markets:          tpl.Markets,
		Environments:     tpl.Environments,
		Status:           tpl.Status,
		CreatedAt:        tpl.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        tpl.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (b *templateBody) toModel() *model.RoleTemplate {
	return &model.RoleTemplate{
		RoleName:         b.RoleName,
		DisplayName:      b.DisplayName,
		Description:      b.Description,
		DefaultColumns:   b.DefaultColumns,
		AvailableWidgets: b.AvailableWidgets,
		DefaultActions:   b.DefaultActions,
		SettingsAccess:   b.SettingsAccess,
		DefaultTheme:     b.DefaultTheme,
		LayoutPriority:   b.LayoutPriority,
		Markets:          b.Markets,
		Environments:     b.Environments,
	}
}

// Create — POST /api/v1/role-templates.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	tpl, err := h.templates.Create(r.Context(), body.toModel())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(tpl))
}

// Update — PUT /api/v1/role-templates/{roleName}.
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	roleName := chi.URLParam(r, "roleName")

	var body templateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	body.RoleName = roleName

	tpl, err := h.templates.Update(r.Context(), body.toModel())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

// Get — GET /api/v1/role-templates/{roleName}.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.templates.Get(r.Context(), chi.URLParam(r, "roleName"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

// List — GET /api/v1/role-templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]templateResponse, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, toTemplateResponse(tpl))
	}
	writeJSON(w, http.StatusOK, out)
}

// Count — GET /api/v1/role-templates/count.
func (h *TemplateHandler) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.templates.Count(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// Retire — DELETE /api/v1/role-templates/{roleName} (soft delete).
func (h *TemplateHandler) Retire(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.Retire(r.Context(), chi.URLParam(r, "roleName")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
