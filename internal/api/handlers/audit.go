// audit.go — обработчики чтения аудита вычислений.
// Аудит append-only: API только читает, записи создаёт движок слияния.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/entitlement/layout-module/internal/api/errors"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/service"
)

// AuditHandler — обработчик аудита вычислений.
type AuditHandler struct {
	audit  *service.AuditRecorder
	logger *slog.Logger
}

// NewAuditHandler создаёт обработчик аудита.
func NewAuditHandler(audit *service.AuditRecorder, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_handler")),
	}
}

// auditResponse — представление записи аудита в ответах API.
type auditResponse struct {
	AuditID             int64             `json:"auditId"`
	UserID              string            `json:"userId"`
	UserEmail           string            `json:"userEmail,omitempty"`
	ADGroupDNs          []string          `json:"adGroupDns"`
	MatchedOverrides    model.Document    `json:"matchedOverrides"`
	BaseRoles           []string          `json:"baseRoles"`
	ComputationSteps    model.Document    `json:"computationSteps"`
	ConflictResolutions model.Document    `json:"conflictResolutions"`
	FinalLayout         model.Document    `json:"finalLayout"`
	ComputationTimeMs   int64             `json:"computationTimeMs"`
	CacheStatus         model.CacheStatus `json:"cacheStatus"`
	ComputationSource   string            `json:"computationSource"`
	CreatedAt           string            `json:"createdAt"`
}

func toAuditResponse(a *model.ComputationAudit) auditResponse {
	return auditResponse{
		AuditID:             a.AuditID,
		UserID:              a.UserID,
		UserEmail:           a.UserEmail,
		ADGroupDNs:          a.GroupDNs,
		MatchedOverrides:    a.MatchedOverrides,
		BaseRoles:           a.BaseRoles,
		ComputationSteps:    a.Steps,
		ConflictResolutions: a.ConflictResolutions,
		FinalLayout:         a.FinalLayout,
		ComputationTimeMs:   a.ComputationTimeMs,
		CacheStatus:         a.CacheStatus,
		ComputationSource:   a.Source,
		CreatedAt:           a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeAuditList(w http.ResponseWriter, records []*model.ComputationAudit) {
	out := make([]auditResponse, 0, len(records))
	for _, a := range records {
		out = append(out, toAuditResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListByUser — GET /api/v1/audit/user/{userId}?limit=N.
// Без параметров from/to возвращает последние записи (новые первыми).
// С параметрами from/to (RFC3339) — записи в интервале времени.
func (h *AuditHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	fromRaw := r.URL.Query().Get("from")
	toRaw := r.URL.Query().Get("to")

	if fromRaw != "" || toRaw != "" {
		from, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный параметр from: ожидается RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный параметр to: ожидается RFC3339")
			return
		}

		records, err := h.audit.ListByUserRange(r.Context(), userID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeAuditList(w, records)
		return
	}

	records, err := h.audit.ListByUser(r.Context(), userID, queryInt(r, "limit", 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAuditList(w, records)
}

// PerformanceStats — GET /api/v1/audit/performance-stats.
func (h *AuditHandler) PerformanceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.audit.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalRequests": stats.TotalRequests,
		"avgTimeMs":     stats.AvgTimeMs,
		"maxTimeMs":     stats.MaxTimeMs,
		"minTimeMs":     stats.MinTimeMs,
		"cacheHits":     stats.CacheHits,
		"cacheMisses":   stats.CacheMisses,
	})
}
