// layout_test.go — unit-тесты движка слияния на in-memory репозиториях.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// --- In-memory репозитории ---

type fakeTemplateRepo struct {
	rows   map[string]*model.RoleTemplate
	getErr error
}

func (f *fakeTemplateRepo) Create(_ context.Context, tpl *model.RoleTemplate) error {
	if _, ok := f.rows[tpl.RoleName]; ok {
		return repository.ErrConflict
	}
	f.rows[tpl.RoleName] = tpl
	return nil
}

func (f *fakeTemplateRepo) Update(_ context.Context, tpl *model.RoleTemplate) error {
	if _, ok := f.rows[tpl.RoleName]; !ok {
		return repository.ErrNotFound
	}
	f.rows[tpl.RoleName] = tpl
	return nil
}

func (f *fakeTemplateRepo) GetByName(_ context.Context, roleName string) (*model.RoleTemplate, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	tpl, ok := f.rows[roleName]
	if !ok || tpl.Status != model.StatusActive {
		return nil, repository.ErrNotFound
	}
	return tpl, nil
}

func (f *fakeTemplateRepo) List(_ context.Context) ([]*model.RoleTemplate, error) {
	var out []*model.RoleTemplate
	for _, tpl := range f.rows {
		if tpl.Status == model.StatusActive {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (f *fakeTemplateRepo) CountActive(ctx context.Context) (int64, error) {
	list, _ := f.List(ctx)
	return int64(len(list)), nil
}

func (f *fakeTemplateRepo) Retire(_ context.Context, roleName string) error {
	tpl, ok := f.rows[roleName]
	if !ok {
		return repository.ErrNotFound
	}
	tpl.Status = model.StatusRetired
	return nil
}

type fakeOverrideRepo struct {
	rows    map[string]*model.GroupOverride // по ad_group_hash
	listErr error
}

func (f *fakeOverrideRepo) Upsert(_ context.Context, o *model.GroupOverride) error {
	f.rows[o.GroupHash] = o
	return nil
}

func (f *fakeOverrideRepo) GetByHash(_ context.Context, hash string) (*model.GroupOverride, error) {
	o, ok := f.rows[hash]
	if !ok || o.Status != model.StatusActive {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (f *fakeOverrideRepo) GetByDN(_ context.Context, dn string) (*model.GroupOverride, error) {
	return f.GetByHash(context.Background(), adgroup.Hash(dn))
}

func (f *fakeOverrideRepo) ListByHashes(_ context.Context, hashes []string) ([]*model.GroupOverride, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.GroupOverride
	for _, h := range hashes {
		if o, ok := f.rows[h]; ok && o.Status == model.StatusActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].GroupHash < out[j].GroupHash
	})
	return out, nil
}

func (f *fakeOverrideRepo) ListActive(_ context.Context) ([]*model.GroupOverride, error) {
	var hashes []string
	for h := range f.rows {
		hashes = append(hashes, h)
	}
	return f.ListByHashes(context.Background(), hashes)
}

func (f *fakeOverrideRepo) ListByMarket(_ context.Context, market string) ([]*model.GroupOverride, error) {
	all, _ := f.ListActive(context.Background())
	var out []*model.GroupOverride
	for _, o := range all {
		if o.Market == market {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOverrideRepo) ListByFunction(_ context.Context, function string) ([]*model.GroupOverride, error) {
	all, _ := f.ListActive(context.Background())
	var out []*model.GroupOverride
	for _, o := range all {
		if o.Function != nil && *o.Function == function {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOverrideRepo) ListByEnvironment(_ context.Context, environment string) ([]*model.GroupOverride, error) {
	all, _ := f.ListActive(context.Background())
	var out []*model.GroupOverride
	for _, o := range all {
		if o.Environment != nil && *o.Environment == environment {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOverrideRepo) CountByMarket(ctx context.Context, market string) (int64, error) {
	list, _ := f.ListByMarket(ctx, market)
	return int64(len(list)), nil
}

func (f *fakeOverrideRepo) Retire(_ context.Context, hash string) error {
	o, ok := f.rows[hash]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = model.StatusRetired
	return nil
}

type fakePrefRepo struct {
	rows    map[string]*model.UserPreference
	upserts int
	getErr  error
}

func (f *fakePrefRepo) Upsert(_ context.Context, p *model.UserPreference) error {
	f.upserts++
	cp := *p
	f.rows[p.UserID] = &cp
	return nil
}

func (f *fakePrefRepo) Get(_ context.Context, userID string) (*model.UserPreference, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePrefRepo) Delete(_ context.Context, userID string) error {
	if _, ok := f.rows[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, userID)
	return nil
}

func (f *fakePrefRepo) DeleteExpired(_ context.Context) (int64, error) {
	var removed int64
	now := time.Now()
	for id, p := range f.rows {
		if p.Expired(now) {
			delete(f.rows, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakePrefRepo) CountValid(_ context.Context) (int64, error) {
	var n int64
	now := time.Now()
	for _, p := range f.rows {
		if !p.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (f *fakePrefRepo) CountExpired(_ context.Context) (int64, error) {
	total := int64(len(f.rows))
	valid, _ := f.CountValid(context.Background())
	return total - valid, nil
}

type fakeAuditRepo struct {
	records []*model.ComputationAudit
}

func (f *fakeAuditRepo) Insert(_ context.Context, a *model.ComputationAudit) (int64, error) {
	cp := *a
	cp.AuditID = int64(len(f.records) + 1)
	f.records = append(f.records, &cp)
	return cp.AuditID, nil
}

func (f *fakeAuditRepo) ListByUser(_ context.Context, userID string, limit int) ([]*model.ComputationAudit, error) {
	var out []*model.ComputationAudit
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].UserID == userID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) ListByUserRange(_ context.Context, userID string, from, to time.Time) ([]*model.ComputationAudit, error) {
	return f.ListByUser(context.Background(), userID, len(f.records))
}

func (f *fakeAuditRepo) Stats(_ context.Context) (*repository.PerformanceStats, error) {
	return &repository.PerformanceStats{TotalRequests: int64(len(f.records))}, nil
}

func (f *fakeAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []*model.ComputationAudit
	var removed int64
	for _, a := range f.records {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	f.records = kept
	return removed, nil
}

// --- Тестовое окружение ---

type layoutEnv struct {
	svc       *LayoutService
	templates *fakeTemplateRepo
	overrides *fakeOverrideRepo
	prefs     *fakePrefRepo
	audit     *fakeAuditRepo
	now       time.Time
}

func newLayoutEnv(t *testing.T) *layoutEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &layoutEnv{
		templates: &fakeTemplateRepo{rows: make(map[string]*model.RoleTemplate)},
		overrides: &fakeOverrideRepo{rows: make(map[string]*model.GroupOverride)},
		prefs:     &fakePrefRepo{rows: make(map[string]*model.UserPreference)},
		audit:     &fakeAuditRepo{},
		now:       time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}

	tplTier := NewTierCache[*model.RoleTemplate]("templates", 100, time.Hour)
	ovrTier := NewTierCache[*model.GroupOverride]("overrides", 100, 30*time.Minute)
	prefTier := NewTierCache[*model.UserPreference]("preferences", 100, 4*time.Hour)

	env.svc = NewLayoutService(
		env.prefs,
		NewOverrideLookup(env.overrides, ovrTier, logger),
		NewTemplateLookup(env.templates, tplTier, logger),
		prefTier,
		NewAuditRecorder(env.audit, logger),
		adgroup.NewParseCache(100, time.Hour),
		4*time.Hour,
		logger,
	)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *layoutEnv) addTemplate(roleName string, priority int) *model.RoleTemplate {
	tpl := &model.RoleTemplate{
		ID:               roleName + "-id",
		RoleName:         roleName,
		DisplayName:      roleName,
		DefaultColumns:   model.Document(`["id","name"]`),
		AvailableWidgets: model.Document(`["chart"]`),
		DefaultActions:   model.Document(`["view"]`),
		SettingsAccess:   model.Document(`{"theme":true}`),
		DefaultTheme:     model.Document(`{"name":"` + roleName + `-theme"}`),
		LayoutPriority:   priority,
		Status:           model.StatusActive,
	}
	e.templates.rows[roleName] = tpl
	return tpl
}

func (e *layoutEnv) addOverride(dn string, priority int, layout string) *model.GroupOverride {
	o := &model.GroupOverride{
		GroupHash:       adgroup.Hash(dn),
		GroupDN:         dn,
		Market:          adgroup.Parse(dn).Market,
		LayoutOverrides: model.Document(layout),
		Priority:        priority,
		Status:          model.StatusActive,
	}
	e.overrides.rows[o.GroupHash] = o
	return o
}

// --- Тесты ---

// TestCompute_Validation: пустой userId или пустой список групп —
// ошибка валидации до обращения к store, с записью аудита.
func TestCompute_Validation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		groups []string
	}{
		{name: "пустой userId", userID: "", groups: []string{"CN=EMEA-Managers"}},
		{name: "userId из пробелов", userID: "   ", groups: []string{"CN=EMEA-Managers"}},
		{name: "пустой список групп", userID: "u1", groups: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newLayoutEnv(t)
			_, err := env.svc.Compute(context.Background(), tt.userID, "", tt.groups)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ожидалась ErrValidation, получено: %v", err)
			}
			if len(env.audit.records) != 1 {
				t.Fatalf("ожидалась 1 запись аудита, получено %d", len(env.audit.records))
			}
			a := env.audit.records[0]
			if a.Source != model.SourceError {
				t.Errorf("source аудита = %q, ожидался error", a.Source)
			}
			if env.prefs.upserts != 0 {
				t.Errorf("write-back при ошибке валидации недопустим")
			}
		})
	}
}

// TestCompute_MarketFirstMatch: рынок — первый литерал при сканировании
// списка DN по порядку.
func TestCompute_MarketFirstMatch(t *testing.T) {
	env := newLayoutEnv(t)
	groups := []string{
		"CN=Corp-Everyone,OU=Groups",       // без рынка
		"CN=UK-Sales,OU=Groups",            // первый рынок
		"CN=EMEA-Senior-Managers,OU=Groups", // игнорируется
	}

	layout, err := env.svc.Compute(context.Background(), "u1", "u1@corp.test", groups)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if layout.Market != "UK" {
		t.Errorf("рынок = %q, ожидался UK", layout.Market)
	}
}

// TestCompute_BaseTemplateFirstOnly: базовый layout строится только
// из первого сработавшего шаблона, остальные игнорируются.
func TestCompute_BaseTemplateFirstOnly(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("SENIOR_MANAGER", 10)
	env.addTemplate("ANALYST", 20)

	groups := []string{
		"CN=EMEA-Senior-Managers,OU=Groups",
		"CN=EMEA-Analysts,OU=Groups",
	}
	layout, err := env.svc.Compute(context.Background(), "u1", "", groups)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	theme := string(layout.Sections[model.SectionDefaultTheme])
	if theme != `{"name":"SENIOR_MANAGER-theme"}` {
		t.Errorf("defaultTheme = %s, ожидалась тема первого шаблона", theme)
	}

	// Обе роли попадают в baseRoles записи предпочтений
	p := env.prefs.rows["u1"]
	if p == nil {
		t.Fatal("ожидался write-back предпочтений")
	}
	if len(p.BaseRoles) != 2 || p.BaseRoles[0] != "SENIOR_MANAGER" || p.BaseRoles[1] != "ANALYST" {
		t.Errorf("baseRoles = %v", p.BaseRoles)
	}
}

// TestCompute_SeniorManagerPrecedence: "Senior-Managers" распознаётся
// раньше "Managers" в одном DN.
func TestCompute_SeniorManagerPrecedence(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("SENIOR_MANAGER", 10)
	env.addTemplate("MANAGER", 20)

	layout, err := env.svc.Compute(context.Background(), "u1", "",
		[]string{"CN=EMEA-Senior-Managers,OU=Groups"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	theme := string(layout.Sections[model.SectionDefaultTheme])
	if theme != `{"name":"SENIOR_MANAGER-theme"}` {
		t.Errorf("defaultTheme = %s, ожидался шаблон SENIOR_MANAGER", theme)
	}
}

// TestCompute_OverrideLastWriterWins: overrides применяются по
// возрастанию priority, при пересечении секций побеждает последний
// (с большим числом priority), конфликт фиксируется в аудите.
func TestCompute_OverrideLastWriterWins(t *testing.T) {
	env := newLayoutEnv(t)
	dnLow := "CN=EMEA-Support-Low,OU=Groups"
	dnHigh := "CN=EMEA-Support-High,OU=Groups"
	env.addOverride(dnLow, 10, `{"w":"low"}`)
	env.addOverride(dnHigh, 50, `{"w":"high"}`)

	layout, err := env.svc.Compute(context.Background(), "u1", "", []string{dnHigh, dnLow})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	got := string(layout.Sections[model.SectionGroupLayoutOverride])
	if got != `{"w":"high"}` {
		t.Errorf("adGroupLayoutOverride = %s, ожидался override с priority 50", got)
	}

	a := env.audit.records[0]
	if a.ConflictResolutions.IsEmpty() {
		t.Error("ожидалась зафиксированная запись о конфликте")
	}
}

// TestCompute_PreferenceFieldsAlwaysWin: payload-поля валидных
// предпочтений ложатся поверх результата слияния.
func TestCompute_PreferenceFieldsAlwaysWin(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("MANAGER", 10)
	env.prefs.rows["u1"] = &model.UserPreference{
		UserID:         "u1",
		ComputedLayout: model.Document(`{"custom":true}`),
		MarketTheme:    model.Document(`{"dark":true}`),
		CacheExpiry:    env.now.Add(time.Hour),
		LastComputedAt: env.now.Add(-time.Hour),
		Source:         model.SourceComputation,
	}

	layout, err := env.svc.Compute(context.Background(), "u1", "",
		[]string{"CN=EMEA-Managers,OU=Groups"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if layout.CacheStatus != model.CacheHit {
		t.Errorf("cacheStatus = %q, ожидался hit", layout.CacheStatus)
	}
	if layout.Source != model.SourceCache {
		t.Errorf("source = %q, ожидался cache", layout.Source)
	}
	if string(layout.Sections[model.SectionUserComputedLayout]) != `{"custom":true}` {
		t.Error("userComputedLayout не применён")
	}
	if string(layout.Sections[model.SectionUserMarketTheme]) != `{"dark":true}` {
		t.Error("userMarketTheme не применён")
	}
	// При hit write-back не выполняется
	if env.prefs.upserts != 0 {
		t.Errorf("write-back при hit недопустим, upserts = %d", env.prefs.upserts)
	}
}

// TestCompute_ExpiredPreferenceRecomputes: истёкшая запись трактуется
// как отсутствующая, но её payload-поля переносятся при write-back.
func TestCompute_ExpiredPreferenceRecomputes(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("MANAGER", 10)
	env.prefs.rows["u1"] = &model.UserPreference{
		UserID:         "u1",
		ComputedLayout: model.Document(`{"custom":true}`),
		CacheExpiry:    env.now.Add(-time.Minute),
		Source:         model.SourceComputation,
	}

	layout, err := env.svc.Compute(context.Background(), "u1", "",
		[]string{"CN=EMEA-Managers,OU=Groups"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if layout.CacheStatus != model.CacheExpired {
		t.Errorf("cacheStatus = %q, ожидался expired", layout.CacheStatus)
	}
	if layout.Source != model.SourceComputation {
		t.Errorf("source = %q, ожидался computation", layout.Source)
	}
	// Истёкшие payload-поля НЕ попадают в итоговый layout
	if _, ok := layout.Sections[model.SectionUserComputedLayout]; ok {
		t.Error("payload истёкшей записи не должен попадать в layout")
	}

	// Write-back переносит payload и освежает служебные колонки
	p := env.prefs.rows["u1"]
	if string(p.ComputedLayout) != `{"custom":true}` {
		t.Error("write-back не перенёс computed_layout")
	}
	if !p.CacheExpiry.Equal(env.now.Add(4 * time.Hour)) {
		t.Errorf("cache_expiry = %v, ожидался now+4h", p.CacheExpiry)
	}
	if p.Source != model.SourceComputation {
		t.Errorf("source записи = %q", p.Source)
	}
}

// TestCompute_WriteBackFirstTime: при первом вычислении write-back
// создаёт запись с пустыми payload-полями.
func TestCompute_WriteBackFirstTime(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("MANAGER", 10)

	layout, err := env.svc.Compute(context.Background(), "u1", "u1@corp.test",
		[]string{"CN=UK-Managers,OU=Groups"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if layout.CacheStatus != model.CacheMiss {
		t.Errorf("cacheStatus = %q, ожидался miss", layout.CacheStatus)
	}

	p := env.prefs.rows["u1"]
	if p == nil {
		t.Fatal("ожидался write-back предпочтений")
	}
	if !p.ComputedLayout.IsEmpty() {
		t.Error("computed_layout при первом write-back должен быть пуст")
	}
	if p.PrimaryMarket != "UK" {
		t.Errorf("primary_market = %q", p.PrimaryMarket)
	}
	if p.Email == nil || *p.Email != "u1@corp.test" {
		t.Error("email не сохранён при write-back")
	}
}

// TestCompute_Idempotence: повторное вычисление с теми же входами
// даёт идентичные секции.
func TestCompute_Idempotence(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("ANALYST", 10)
	dn := "CN=US-Analysts-Support,OU=Groups"
	env.addOverride(dn, 20, `{"widgets":["grid"]}`)

	groups := []string{dn}
	first, err := env.svc.Compute(context.Background(), "u1", "", groups)
	if err != nil {
		t.Fatalf("первый Compute: %v", err)
	}
	second, err := env.svc.Compute(context.Background(), "u1", "", groups)
	if err != nil {
		t.Fatalf("второй Compute: %v", err)
	}

	if len(first.Sections) != len(second.Sections) {
		t.Fatalf("количество секций различается: %d != %d", len(first.Sections), len(second.Sections))
	}
	for name, doc := range first.Sections {
		if string(second.Sections[name]) != string(doc) {
			t.Errorf("секция %s различается между вычислениями", name)
		}
	}
	// Второй вызов — hit из яруса (write-back первого положил запись в кэш)
	if second.CacheStatus != model.CacheHit {
		t.Errorf("cacheStatus второго вызова = %q, ожидался hit", second.CacheStatus)
	}
}

// TestCompute_StoreFailureAudited: ошибка backing store прерывает
// resolution без частичного результата, с записью аудита.
func TestCompute_StoreFailureAudited(t *testing.T) {
	env := newLayoutEnv(t)
	env.overrides.listErr = errors.New("connection refused")

	_, err := env.svc.Compute(context.Background(), "u1", "",
		[]string{"CN=EMEA-Managers,OU=Groups"})
	if !errors.Is(err, ErrComputation) {
		t.Fatalf("ожидалась ErrComputation, получено: %v", err)
	}

	if len(env.audit.records) != 1 {
		t.Fatalf("ожидалась 1 запись аудита, получено %d", len(env.audit.records))
	}
	if env.audit.records[0].Source != model.SourceError {
		t.Errorf("source аудита = %q, ожидался error", env.audit.records[0].Source)
	}
}

// TestCompute_AuditOncePerAttempt: ровно одна запись аудита на каждую
// попытку, успешную или нет.
func TestCompute_AuditOncePerAttempt(t *testing.T) {
	env := newLayoutEnv(t)
	env.addTemplate("MANAGER", 10)
	groups := []string{"CN=EMEA-Managers,OU=Groups"}

	env.svc.Compute(context.Background(), "u1", "", groups)       // miss
	env.svc.Compute(context.Background(), "u1", "", groups)       // hit
	env.svc.Compute(context.Background(), "", "", groups)         // ошибка валидации
	env.svc.Compute(context.Background(), "u2", "", []string{})   // ошибка валидации

	if len(env.audit.records) != 4 {
		t.Fatalf("ожидалось 4 записи аудита, получено %d", len(env.audit.records))
	}
}

// TestCompute_NoTemplatesNoOverrides: пользователь без шаблонов и
// overrides получает валидный пустой layout с рынком GLOBAL.
func TestCompute_NoTemplatesNoOverrides(t *testing.T) {
	env := newLayoutEnv(t)

	layout, err := env.svc.Compute(context.Background(), "u1", "",
		[]string{"CN=Corp-Everyone,OU=Groups"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if layout.Market != adgroup.MarketGlobal {
		t.Errorf("рынок = %q, ожидался GLOBAL", layout.Market)
	}
	if len(layout.Sections) != 0 {
		t.Errorf("ожидались пустые секции, получено %d", len(layout.Sections))
	}
}
