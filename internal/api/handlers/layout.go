// layout.go — обработчик resolution итогового layout.
// POST /api/v1/layout/compute — главная операция Layout Module.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/entitlement/layout-module/internal/api/errors"
	"github.com/bigkaa/entitlement/layout-module/internal/api/middleware"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/service"
)

// LayoutHandler — обработчик вычисления layout.
type LayoutHandler struct {
	layouts *service.LayoutService
	logger  *slog.Logger
}

// NewLayoutHandler создаёт обработчик вычисления layout.
func NewLayoutHandler(layouts *service.LayoutService, logger *slog.Logger) *LayoutHandler {
	return &LayoutHandler{
		layouts: layouts,
		logger:  logger.With(slog.String("component", "layout_handler")),
	}
}

// computeRequest — тело запроса вычисления layout.
type computeRequest struct {
	UserID    string   `json:"userId"`
	UserEmail string   `json:"userEmail,omitempty"`
	ADGroups  []string `json:"adGroups"`
}

// computeResponse — итоговый layout для UI.
type computeResponse struct {
	UserID            string                    `json:"userId"`
	Layout            map[string]model.Document `json:"layout"`
	Market            string                    `json:"market"`
	CacheStatus       model.CacheStatus         `json:"cacheStatus"`
	ComputationSource string                    `json:"computationSource"`
	ComputationTimeMs int64                     `json:"computationTimeMs"`
	Timestamp         string                    `json:"timestamp"`
}

// computeErrorResponse — тело ошибки вычисления layout.
// В отличие от остальных endpoint, ответ дополняется полями
// computationSource="error" и computationTimeMs=0: UI различает
// успех и отказ по одному и тому же полю computationSource.
type computeErrorResponse struct {
	Error             computeErrorDetail `json:"error"`
	ComputationSource string             `json:"computationSource"`
	ComputationTimeMs int64              `json:"computationTimeMs"`
}

// computeErrorDetail — детали ошибки вычисления.
type computeErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeComputeError записывает ответ ошибки вычисления layout.
func writeComputeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, computeErrorResponse{
		Error: computeErrorDetail{
			Code:    code,
			Message: message,
		},
		ComputationSource: model.SourceError,
		ComputationTimeMs: 0,
	})
}

// Compute — POST /api/v1/layout/compute.
// Поля, отсутствующие в теле запроса, добираются из JWT claims
// (sub, email, groups) при включённой аутентификации.
func (h *LayoutHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeComputeError(w, http.StatusBadRequest, apierrors.CodeValidationError,
			"Некорректное тело запроса: "+err.Error())
		return
	}

	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		if req.UserID == "" {
			req.UserID = claims.Subject
		}
		if req.UserEmail == "" {
			req.UserEmail = claims.Email
		}
		if len(req.ADGroups) == 0 {
			req.ADGroups = claims.Groups
		}
	}

	layout, err := h.layouts.Compute(r.Context(), req.UserID, req.UserEmail, req.ADGroups)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			writeComputeError(w, http.StatusBadRequest, apierrors.CodeValidationError, err.Error())
		} else {
			writeComputeError(w, http.StatusInternalServerError, apierrors.CodeInternalError,
				"Внутренняя ошибка сервера")
		}
		return
	}

	writeJSON(w, http.StatusOK, computeResponse{
		UserID:            layout.UserID,
		Layout:            layout.Sections,
		Market:            layout.Market,
		CacheStatus:       layout.CacheStatus,
		ComputationSource: layout.Source,
		ComputationTimeMs: layout.ComputationTimeMs,
		Timestamp:         layout.Timestamp.UTC().Format(time.RFC3339),
	})
}
