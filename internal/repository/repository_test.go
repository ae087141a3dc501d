package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/entitlement/layout-module/internal/config"
	"github.com/bigkaa/entitlement/layout-module/internal/database"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool, контейнер останавливается в t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("layout_test"),
		postgres.WithUsername("layout"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("LM_DB_HOST", host)
	os.Setenv("LM_DB_PORT", port.Port())
	os.Setenv("LM_DB_NAME", "layout_test")
	os.Setenv("LM_DB_USER", "layout")
	os.Setenv("LM_DB_PASSWORD", "test-password")
	os.Setenv("LM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- Тесты RoleTemplateRepository ---

func TestRoleTemplateCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRoleTemplateRepository(pool)

	tpl := &model.RoleTemplate{
		RoleName:         "SENIOR_MANAGER",
		DisplayName:      "Senior Manager",
		DefaultColumns:   model.Document(`["id","name","status"]`),
		AvailableWidgets: model.Document(`["chart","grid"]`),
		DefaultActions:   model.Document(`["view","export"]`),
		SettingsAccess:   model.Document(`{"theme":true}`),
		DefaultTheme:     model.Document(`{"name":"dark"}`),
		LayoutPriority:   10,
		Markets:          []string{"EMEA", "UK"},
		Environments:     []string{"PROD", "UAT"},
		Status:           model.StatusActive,
	}

	if err := repo.Create(ctx, tpl); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tpl.ID == "" {
		t.Error("ID не присвоен после Create")
	}

	// Дубликат имени роли — ErrConflict
	if err := repo.Create(ctx, &model.RoleTemplate{
		RoleName:    "SENIOR_MANAGER",
		DisplayName: "Duplicate",
		Status:      model.StatusActive,
	}); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено: %v", err)
	}

	// Точный регистрозависимый поиск
	got, err := repo.GetByName(ctx, "SENIOR_MANAGER")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.DisplayName != "Senior Manager" || got.LayoutPriority != 10 {
		t.Errorf("GetByName вернул некорректные данные: %+v", got)
	}
	if _, err := repo.GetByName(ctx, "senior_manager"); !errors.Is(err, ErrNotFound) {
		t.Errorf("поиск в нижнем регистре должен вернуть ErrNotFound, получено: %v", err)
	}

	// Обновление
	tpl.DisplayName = "Senior Manager EMEA"
	if err := repo.Update(ctx, tpl); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = repo.GetByName(ctx, "SENIOR_MANAGER")
	if got.DisplayName != "Senior Manager EMEA" {
		t.Errorf("Update не применился: %q", got.DisplayName)
	}

	// List и CountActive
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List вернул %d шаблонов, ожидался 1", len(list))
	}
	count, _ := repo.CountActive(ctx)
	if count != 1 {
		t.Errorf("CountActive = %d, ожидалось 1", count)
	}

	// Soft delete: запись исчезает из выборок
	if err := repo.Retire(ctx, "SENIOR_MANAGER"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if _, err := repo.GetByName(ctx, "SENIOR_MANAGER"); !errors.Is(err, ErrNotFound) {
		t.Errorf("retired шаблон должен возвращать ErrNotFound, получено: %v", err)
	}
	count, _ = repo.CountActive(ctx)
	if count != 0 {
		t.Errorf("CountActive после Retire = %d, ожидалось 0", count)
	}
}

// --- Тесты GroupOverrideRepository ---

func TestGroupOverrideUpsertAndLookup(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewGroupOverrideRepository(pool)

	fn := "SUPPORT"
	env := "PROD"
	dns := []string{
		"CN=EMEA-Support-PROD-A,OU=Groups,DC=corp",
		"CN=EMEA-Support-PROD-B,OU=Groups,DC=corp",
		"CN=UK-Sales-UAT,OU=Groups,DC=corp",
	}
	priorities := []int{50, 50, 10}
	for i, dn := range dns {
		o := &model.GroupOverride{
			GroupHash:       adgroup.Hash(dn),
			GroupDN:         dn,
			Market:          adgroup.Parse(dn).Market,
			LayoutOverrides: model.Document(fmt.Sprintf(`{"i":%d}`, i)),
			Priority:        priorities[i],
			Status:          model.StatusActive,
		}
		if i < 2 {
			o.Function = &fn
			o.Environment = &env
		}
		if err := repo.Upsert(ctx, o); err != nil {
			t.Fatalf("Upsert %s: %v", dn, err)
		}
	}

	// ListByHashes: priority ASC, hash ASC; отсутствующие хэши пропускаются
	hashes := []string{
		adgroup.Hash(dns[0]), adgroup.Hash(dns[1]), adgroup.Hash(dns[2]),
		adgroup.Hash("CN=Missing,OU=Groups"),
	}
	got, err := repo.ListByHashes(ctx, hashes)
	if err != nil {
		t.Fatalf("ListByHashes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("найдено %d overrides, ожидалось 3", len(got))
	}
	if got[0].Priority != 10 {
		t.Errorf("первый override priority = %d, ожидалось 10", got[0].Priority)
	}
	if got[1].GroupHash > got[2].GroupHash {
		t.Error("tiebreak по хэшу нарушен при равных priority")
	}

	// Повторный Upsert того же DN обновляет запись
	o := &model.GroupOverride{
		GroupHash:       adgroup.Hash(dns[2]),
		GroupDN:         dns[2],
		Market:          "UK",
		LayoutOverrides: model.Document(`{"updated":true}`),
		Priority:        15,
		Status:          model.StatusActive,
	}
	if err := repo.Upsert(ctx, o); err != nil {
		t.Fatalf("повторный Upsert: %v", err)
	}
	byDN, err := repo.GetByDN(ctx, dns[2])
	if err != nil {
		t.Fatalf("GetByDN: %v", err)
	}
	if byDN.Priority != 15 {
		t.Errorf("priority после Upsert = %d, ожидалось 15", byDN.Priority)
	}

	// Выборки по атрибутам
	byMarket, err := repo.ListByMarket(ctx, "EMEA")
	if err != nil {
		t.Fatalf("ListByMarket: %v", err)
	}
	if len(byMarket) != 2 {
		t.Errorf("ListByMarket(EMEA) = %d, ожидалось 2", len(byMarket))
	}
	byFn, _ := repo.ListByFunction(ctx, "SUPPORT")
	if len(byFn) != 2 {
		t.Errorf("ListByFunction(SUPPORT) = %d, ожидалось 2", len(byFn))
	}
	byEnv, _ := repo.ListByEnvironment(ctx, "PROD")
	if len(byEnv) != 2 {
		t.Errorf("ListByEnvironment(PROD) = %d, ожидалось 2", len(byEnv))
	}
	count, _ := repo.CountByMarket(ctx, "EMEA")
	if count != 2 {
		t.Errorf("CountByMarket(EMEA) = %d, ожидалось 2", count)
	}

	// Soft delete
	if err := repo.Retire(ctx, adgroup.Hash(dns[0])); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if _, err := repo.GetByHash(ctx, adgroup.Hash(dns[0])); !errors.Is(err, ErrNotFound) {
		t.Errorf("retired override должен возвращать ErrNotFound, получено: %v", err)
	}
}

// --- Тесты UserPreferenceRepository ---

func TestUserPreferenceLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserPreferenceRepository(pool)

	email := "john.doe@corp.test"
	now := time.Now().UTC().Truncate(time.Millisecond)

	p := &model.UserPreference{
		UserID:               "john.doe",
		Email:                &email,
		ComputedLayout:       model.Document(`{"cols":["id"]}`),
		MarketTheme:          model.Document(`{"dark":true}`),
		EffectivePermissions: model.Document(`["read"]`),
		PrimaryMarket:        "EMEA",
		BaseRoles:            []string{"MANAGER"},
		CacheExpiry:          now.Add(4 * time.Hour),
		LastComputedAt:       now,
		Source:               model.SourceComputation,
	}
	if err := repo.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "john.doe")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PrimaryMarket != "EMEA" || got.Source != model.SourceComputation {
		t.Errorf("Get вернул некорректные данные: %+v", got)
	}
	if got.Expired(now) {
		t.Error("свежая запись не должна быть истёкшей")
	}

	// Повторный Upsert перезаписывает
	p.PrimaryMarket = "UK"
	if err := repo.Upsert(ctx, p); err != nil {
		t.Fatalf("повторный Upsert: %v", err)
	}
	got, _ = repo.Get(ctx, "john.doe")
	if got.PrimaryMarket != "UK" {
		t.Errorf("primary_market после Upsert = %q", got.PrimaryMarket)
	}

	// Истёкшая запись: Get возвращает её, DeleteExpired удаляет
	expired := &model.UserPreference{
		UserID:         "jane.doe",
		PrimaryMarket:  "US",
		CacheExpiry:    now.Add(-time.Hour),
		LastComputedAt: now.Add(-5 * time.Hour),
		Source:         model.SourceComputation,
	}
	if err := repo.Upsert(ctx, expired); err != nil {
		t.Fatalf("Upsert истёкшей: %v", err)
	}
	gotExpired, err := repo.Get(ctx, "jane.doe")
	if err != nil {
		t.Fatalf("Get истёкшей записи: %v", err)
	}
	if !gotExpired.Expired(now) {
		t.Error("запись должна быть истёкшей")
	}

	valid, _ := repo.CountValid(ctx)
	expCount, _ := repo.CountExpired(ctx)
	if valid != 1 || expCount != 1 {
		t.Errorf("CountValid/CountExpired = %d/%d, ожидалось 1/1", valid, expCount)
	}

	removed, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteExpired удалил %d записей, ожидалась 1", removed)
	}
	if _, err := repo.Get(ctx, "jane.doe"); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись должна быть удалена, получено: %v", err)
	}

	// Delete
	if err := repo.Delete(ctx, "john.doe"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "john.doe"); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete должен вернуть ErrNotFound, получено: %v", err)
	}
}

// --- Тесты ComputationAuditRepository ---

func TestComputationAuditAppendAndStats(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewComputationAuditRepository(pool)

	for i, status := range []model.CacheStatus{model.CacheMiss, model.CacheHit, model.CacheExpired} {
		a := &model.ComputationAudit{
			UserID:            "john.doe",
			UserEmail:         "john.doe@corp.test",
			GroupDNs:          []string{"CN=EMEA-Managers,OU=Groups"},
			MatchedOverrides:  model.Document(`[]`),
			BaseRoles:         []string{"MANAGER"},
			Steps:             model.Document(`["шаг"]`),
			FinalLayout:       model.Document(`{}`),
			ComputationTimeMs: int64(10 + i),
			CacheStatus:       status,
			Source:            model.SourceComputation,
		}
		id, err := repo.Insert(ctx, a)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id == 0 {
			t.Error("Insert вернул нулевой audit_id")
		}
	}

	records, err := repo.ListByUser(ctx, "john.doe", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("найдено %d записей, ожидалось 3", len(records))
	}
	// Новые первыми
	if records[0].ComputationTimeMs != 12 {
		t.Errorf("первая запись computation_time_ms = %d, ожидалось 12", records[0].ComputationTimeMs)
	}

	// Диапазон времени
	ranged, err := repo.ListByUserRange(ctx, "john.doe",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByUserRange: %v", err)
	}
	if len(ranged) != 3 {
		t.Errorf("в диапазоне найдено %d записей, ожидалось 3", len(ranged))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, ожидалось 3", stats.TotalRequests)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, ожидался 1", stats.CacheHits)
	}
	if stats.MinTimeMs != 10 || stats.MaxTimeMs != 12 {
		t.Errorf("Min/Max = %d/%d, ожидалось 10/12", stats.MinTimeMs, stats.MaxTimeMs)
	}

	// Ротация: cutoff в будущем удаляет всё
	removed, err := repo.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if removed != 3 {
		t.Errorf("DeleteOlderThan удалил %d записей, ожидалось 3", removed)
	}
}
