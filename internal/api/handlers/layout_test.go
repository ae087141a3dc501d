// layout_test.go — тесты HTTP-обработчика вычисления layout.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
	"github.com/bigkaa/entitlement/layout-module/internal/service"
)

// Заглушки репозиториев: обработчик тестируется поверх реального
// сервисного слоя с пустым хранилищем.

type stubTemplateRepo struct{}

func (r *stubTemplateRepo) Create(ctx context.Context, tpl *model.RoleTemplate) error { return nil }
func (r *stubTemplateRepo) Update(ctx context.Context, tpl *model.RoleTemplate) error { return nil }
func (r *stubTemplateRepo) GetByName(ctx context.Context, roleName string) (*model.RoleTemplate, error) {
	return nil, repository.ErrNotFound
}
func (r *stubTemplateRepo) List(ctx context.Context) ([]*model.RoleTemplate, error) {
	return nil, nil
}
func (r *stubTemplateRepo) CountActive(ctx context.Context) (int64, error) { return 0, nil }
func (r *stubTemplateRepo) Retire(ctx context.Context, roleName string) error {
	return repository.ErrNotFound
}

type stubOverrideRepo struct{}

func (r *stubOverrideRepo) Upsert(ctx context.Context, o *model.GroupOverride) error { return nil }
func (r *stubOverrideRepo) GetByHash(ctx context.Context, groupHash string) (*model.GroupOverride, error) {
	return nil, repository.ErrNotFound
}
func (r *stubOverrideRepo) GetByDN(ctx context.Context, groupDN string) (*model.GroupOverride, error) {
	return nil, repository.ErrNotFound
}
func (r *stubOverrideRepo) ListByHashes(ctx context.Context, hashes []string) ([]*model.GroupOverride, error) {
	return nil, nil
}
func (r *stubOverrideRepo) ListActive(ctx context.Context) ([]*model.GroupOverride, error) {
	return nil, nil
}
func (r *stubOverrideRepo) ListByMarket(ctx context.Context, market string) ([]*model.GroupOverride, error) {
	return nil, nil
}
func (r *stubOverrideRepo) ListByFunction(ctx context.Context, function string) ([]*model.GroupOverride, error) {
	return nil, nil
}
func (r *stubOverrideRepo) ListByEnvironment(ctx context.Context, environment string) ([]*model.GroupOverride, error) {
	return nil, nil
}
func (r *stubOverrideRepo) CountByMarket(ctx context.Context, market string) (int64, error) {
	return 0, nil
}
func (r *stubOverrideRepo) Retire(ctx context.Context, groupHash string) error {
	return repository.ErrNotFound
}

type stubPrefRepo struct{}

func (r *stubPrefRepo) Upsert(ctx context.Context, p *model.UserPreference) error { return nil }
func (r *stubPrefRepo) Get(ctx context.Context, userID string) (*model.UserPreference, error) {
	return nil, repository.ErrNotFound
}
func (r *stubPrefRepo) Delete(ctx context.Context, userID string) error {
	return repository.ErrNotFound
}
func (r *stubPrefRepo) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }
func (r *stubPrefRepo) CountValid(ctx context.Context) (int64, error)   { return 0, nil }
func (r *stubPrefRepo) CountExpired(ctx context.Context) (int64, error) { return 0, nil }

type stubAuditRepo struct {
	inserts int
}

func (r *stubAuditRepo) Insert(ctx context.Context, a *model.ComputationAudit) (int64, error) {
	r.inserts++
	return int64(r.inserts), nil
}
func (r *stubAuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ComputationAudit, error) {
	return nil, nil
}
func (r *stubAuditRepo) ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]*model.ComputationAudit, error) {
	return nil, nil
}
func (r *stubAuditRepo) Stats(ctx context.Context) (*repository.PerformanceStats, error) {
	return &repository.PerformanceStats{}, nil
}
func (r *stubAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newLayoutHandler(t *testing.T) (*LayoutHandler, *stubAuditRepo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditRepo := &stubAuditRepo{}

	ovrTier := service.NewTierCache[*model.GroupOverride]("overrides", 100, time.Minute)
	tplTier := service.NewTierCache[*model.RoleTemplate]("templates", 100, time.Minute)
	prefTier := service.NewTierCache[*model.UserPreference]("preferences", 100, time.Minute)

	svc := service.NewLayoutService(
		&stubPrefRepo{},
		service.NewOverrideLookup(&stubOverrideRepo{}, ovrTier, logger),
		service.NewTemplateLookup(&stubTemplateRepo{}, tplTier, logger),
		prefTier,
		service.NewAuditRecorder(auditRepo, logger),
		adgroup.NewParseCache(100, time.Minute),
		4*time.Hour,
		logger,
	)
	return NewLayoutHandler(svc, logger), auditRepo
}

func postCompute(t *testing.T, h *LayoutHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/layout/compute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Compute(rec, req)
	return rec
}

// TestCompute_ErrorResponseCarriesSource: ответ с ошибкой валидации несёт
// computationSource="error" и computationTimeMs=0 вместе со стандартным
// конвертом ошибки.
func TestCompute_ErrorResponseCarriesSource(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "пустой список групп", body: `{"userId":"u1","adGroups":[]}`},
		{name: "пустой userId", body: `{"userId":"","adGroups":["CN=EMEA-Managers,OU=Groups"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newLayoutHandler(t)
			rec := postCompute(t, h, tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, http.StatusBadRequest)
			}

			var resp struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
				ComputationSource string `json:"computationSource"`
				ComputationTimeMs int64  `json:"computationTimeMs"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("ошибка разбора ответа: %v", err)
			}
			if resp.ComputationSource != model.SourceError {
				t.Errorf("computationSource = %q, ожидался %q", resp.ComputationSource, model.SourceError)
			}
			if resp.ComputationTimeMs != 0 {
				t.Errorf("computationTimeMs = %d, ожидался 0", resp.ComputationTimeMs)
			}
			if resp.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("error.code = %q, ожидался VALIDATION_ERROR", resp.Error.Code)
			}
			if resp.Error.Message == "" {
				t.Error("error.message пустое")
			}
		})
	}
}

// TestCompute_MalformedBody: некорректный JSON — тоже ошибка валидации
// с computationSource="error".
func TestCompute_MalformedBody(t *testing.T) {
	h, auditRepo := newLayoutHandler(t)
	rec := postCompute(t, h, `{"userId":`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидался %d", rec.Code, http.StatusBadRequest)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if got := resp["computationSource"]; got != model.SourceError {
		t.Errorf("computationSource = %v, ожидался %q", got, model.SourceError)
	}
	// Тело не дошло до сервисного слоя — аудит не пишется
	if auditRepo.inserts != 0 {
		t.Errorf("записей аудита = %d, ожидалось 0", auditRepo.inserts)
	}
}

// TestCompute_SuccessResponseShape: успешный ответ содержит userId, market,
// computationSource и timestamp в формате RFC3339.
func TestCompute_SuccessResponseShape(t *testing.T) {
	h, auditRepo := newLayoutHandler(t)
	rec := postCompute(t, h, `{"userId":"u1","adGroups":["CN=UK-Desk-Support,OU=Groups"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		UserID            string                    `json:"userId"`
		Layout            map[string]model.Document `json:"layout"`
		Market            string                    `json:"market"`
		ComputationSource string                    `json:"computationSource"`
		Timestamp         string                    `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if resp.UserID != "u1" {
		t.Errorf("userId = %q, ожидался u1", resp.UserID)
	}
	if resp.Market != "UK" {
		t.Errorf("market = %q, ожидался UK", resp.Market)
	}
	if resp.ComputationSource != model.SourceComputation {
		t.Errorf("computationSource = %q, ожидался %q", resp.ComputationSource, model.SourceComputation)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp %q не в формате RFC3339: %v", resp.Timestamp, err)
	}
	if auditRepo.inserts != 1 {
		t.Errorf("записей аудита = %d, ожидалась 1", auditRepo.inserts)
	}
}
