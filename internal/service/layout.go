// layout.go — движок слияния Layout Module.
// Детерминированно объединяет шаблон роли, групповые overrides и
// закэшированные предпочтения пользователя в итоговый layout.
//
// Порядок слоёв:
//  1. базовый layout из ПЕРВОГО сработавшего шаблона (остальные шаблоны
//     игнорируются — документированное ограничение);
//  2. overrides по возрастанию priority, каждый безусловно перезаписывает
//     одноимённые секции предыдущего (последняя запись побеждает, то есть
//     при пересечении полей выигрывает override с БОЛЬШИМ числом priority);
//  3. поля валидных предпочтений пользователя — поверх всего, безусловно.
//
// Overrides и шаблоны пересчитываются при каждом вызове, даже при
// попадании в кэш предпочтений: свежесть overrides важнее пропускной
// способности.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/entitlement/layout-module/internal/domain/adgroup"
	"github.com/bigkaa/entitlement/layout-module/internal/domain/model"
	"github.com/bigkaa/entitlement/layout-module/internal/repository"
)

// Prometheus-метрики движка слияния.
var (
	computationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_layout_computations_total",
		Help: "Общее количество вычислений layout по статусу кэша предпочтений.",
	}, []string{"cache_status", "result"})

	computationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lm_layout_computation_duration_seconds",
		Help:    "Длительность вычисления layout в секундах.",
		Buckets: prometheus.DefBuckets,
	})
)

// matchedOverrideRecord — сериализуемая запись о сработавшем override
// для аудита.
type matchedOverrideRecord struct {
	GroupDN   string `json:"adGroupDn"`
	GroupHash string `json:"adGroupHash"`
	Priority  int    `json:"priority"`
}

// LayoutService — движок слияния layout.
type LayoutService struct {
	prefs     repository.UserPreferenceRepository
	overrides *OverrideLookup
	templates *TemplateLookup
	prefCache *TierCache[*model.UserPreference]
	audit     *AuditRecorder
	parse     *adgroup.ParseCache
	prefTTL   time.Duration
	logger    *slog.Logger

	// now подменяется в тестах
	now func() time.Time
}

// NewLayoutService создаёт движок слияния.
// prefTTL — срок действия записи предпочтений при write-back (обычно 4h).
func NewLayoutService(
	prefs repository.UserPreferenceRepository,
	overrides *OverrideLookup,
	templates *TemplateLookup,
	prefCache *TierCache[*model.UserPreference],
	audit *AuditRecorder,
	parse *adgroup.ParseCache,
	prefTTL time.Duration,
	logger *slog.Logger,
) *LayoutService {
	return &LayoutService{
		prefs:     prefs,
		overrides: overrides,
		templates: templates,
		prefCache: prefCache,
		audit:     audit,
		parse:     parse,
		prefTTL:   prefTTL,
		logger:    logger.With(slog.String("service", "layout")),
		now:       time.Now,
	}
}

// Compute выполняет resolution: userID + упорядоченный список DN групп →
// итоговый layout. Ровно одна запись аудита на вызов, включая ошибки.
func (s *LayoutService) Compute(ctx context.Context, userID, userEmail string, groupDNs []string) (*model.FinalLayout, error) {
	start := time.Now()
	var steps []string
	var conflicts []string

	a := &model.ComputationAudit{
		UserID:    userID,
		UserEmail: userEmail,
		GroupDNs:  groupDNs,
	}

	// fail завершает resolution ошибкой: аудит пишется всегда.
	fail := func(cacheStatus model.CacheStatus, err error) (*model.FinalLayout, error) {
		steps = append(steps, "ошибка: "+err.Error())
		a.CacheStatus = cacheStatus
		a.Source = model.SourceError
		a.MatchedOverrides = mustMarshal([]matchedOverrideRecord{})
		a.Steps = mustMarshal(steps)
		a.ComputationTimeMs = time.Since(start).Milliseconds()
		s.audit.Record(ctx, a)
		computationsTotal.WithLabelValues(string(cacheStatus), "error").Inc()
		return nil, err
	}

	// Валидация до любых обращений к store
	if strings.TrimSpace(userID) == "" {
		return fail(model.CacheMiss, fmt.Errorf("%w: пустой userId", ErrValidation))
	}
	if len(groupDNs) == 0 {
		return fail(model.CacheMiss, fmt.Errorf("%w: пустой список групп", ErrValidation))
	}

	now := s.now()

	// Шаг 1: существующие предпочтения пользователя (ярус → store)
	pref, cacheStatus, err := s.lookupPreference(ctx, userID, now)
	if err != nil {
		return fail(model.CacheMiss, fmt.Errorf("%w: %v", ErrComputation, err))
	}
	steps = append(steps, fmt.Sprintf("предпочтения пользователя: %s", cacheStatus))

	// Шаг 2: overrides и шаблоны пересчитываются всегда, даже при hit
	matchedOverrides, err := s.overrides.Lookup(ctx, groupDNs)
	if err != nil {
		return fail(cacheStatus, fmt.Errorf("%w: %v", ErrComputation, err))
	}
	steps = append(steps, fmt.Sprintf("сработало overrides: %d", len(matchedOverrides)))

	matchedTemplates, err := s.templates.Lookup(ctx, groupDNs)
	if err != nil {
		return fail(cacheStatus, fmt.Errorf("%w: %v", ErrComputation, err))
	}
	steps = append(steps, fmt.Sprintf("сработало шаблонов: %d", len(matchedTemplates)))

	// Шаг 3: рынок — первый литерал при сканировании списка по порядку
	market := s.resolveMarket(groupDNs)
	steps = append(steps, "рынок: "+market)

	// Шаг 4: базовый layout из первого шаблона
	sections := make(map[string]model.Document)
	var baseRoles []string
	for _, tpl := range matchedTemplates {
		baseRoles = append(baseRoles, tpl.RoleName)
	}
	if len(matchedTemplates) > 0 {
		primary := matchedTemplates[0]
		sections[model.SectionDefaultColumns] = primary.DefaultColumns
		sections[model.SectionAvailableWidgets] = primary.AvailableWidgets
		sections[model.SectionDefaultActions] = primary.DefaultActions
		sections[model.SectionSettingsAccess] = primary.SettingsAccess
		if !primary.DefaultTheme.IsEmpty() {
			sections[model.SectionDefaultTheme] = primary.DefaultTheme
		}
		steps = append(steps, "базовый шаблон: "+primary.RoleName)
	} else {
		steps = append(steps, "базовый шаблон: нет")
	}

	// Шаг 5: overrides по возрастанию priority, последняя запись побеждает
	lastWriter := make(map[string]*model.GroupOverride)
	applyOverride := func(section string, o *model.GroupOverride, doc model.Document) {
		if doc.IsEmpty() {
			return
		}
		if prev, ok := lastWriter[section]; ok {
			conflicts = append(conflicts, fmt.Sprintf(
				"%s: override %s (priority %d) перезаписал %s (priority %d)",
				section, o.GroupDN, o.Priority, prev.GroupDN, prev.Priority,
			))
		}
		sections[section] = doc
		lastWriter[section] = o
	}
	for _, o := range matchedOverrides {
		applyOverride(model.SectionGroupLayoutOverride, o, o.LayoutOverrides)
		applyOverride(model.SectionDataRestrictions, o, o.DataRestrictions)
		applyOverride(model.SectionVisualCustomizations, o, o.VisualCustomizations)
	}

	// Шаг 6: валидные предпочтения пользователя — поверх всего
	if cacheStatus == model.CacheHit && pref != nil {
		if !pref.ComputedLayout.IsEmpty() {
			sections[model.SectionUserComputedLayout] = pref.ComputedLayout
		}
		if !pref.MarketTheme.IsEmpty() {
			sections[model.SectionUserMarketTheme] = pref.MarketTheme
		}
		if !pref.EffectivePermissions.IsEmpty() {
			sections[model.SectionUserPermissions] = pref.EffectivePermissions
		}
		steps = append(steps, "применены предпочтения пользователя")
	}

	source := model.SourceComputation
	if cacheStatus == model.CacheHit {
		source = model.SourceCache
	}

	elapsed := time.Since(start)
	result := &model.FinalLayout{
		UserID:            userID,
		Sections:          sections,
		Market:            market,
		CacheStatus:       cacheStatus,
		Source:            source,
		ComputationTimeMs: elapsed.Milliseconds(),
		Timestamp:         now,
	}

	// Write-back кэша предпочтений при miss/expired.
	// Пользовательские payload-поля переносятся без изменений — они
	// принадлежат пользователю, write-back освежает только служебные
	// колонки. Ошибка write-back не отменяет готовый layout.
	if cacheStatus != model.CacheHit {
		s.writeBack(ctx, userID, userEmail, pref, market, baseRoles, now)
	}

	// Аудит: ровно одна запись, синхронно
	matchedRecords := make([]matchedOverrideRecord, 0, len(matchedOverrides))
	for _, o := range matchedOverrides {
		matchedRecords = append(matchedRecords, matchedOverrideRecord{
			GroupDN:   o.GroupDN,
			GroupHash: o.GroupHash,
			Priority:  o.Priority,
		})
	}
	a.MatchedOverrides = mustMarshal(matchedRecords)
	a.BaseRoles = baseRoles
	a.Steps = mustMarshal(steps)
	if len(conflicts) > 0 {
		a.ConflictResolutions = mustMarshal(conflicts)
	}
	a.FinalLayout = mustMarshal(sections)
	a.ComputationTimeMs = result.ComputationTimeMs
	a.CacheStatus = cacheStatus
	a.Source = source
	s.audit.Record(ctx, a)

	computationsTotal.WithLabelValues(string(cacheStatus), "ok").Inc()
	computationDuration.Observe(elapsed.Seconds())

	s.logger.Info("Layout вычислен",
		slog.String("user_id", userID),
		slog.String("market", market),
		slog.String("cache_status", string(cacheStatus)),
		slog.Int64("duration_ms", result.ComputationTimeMs),
	)

	return result, nil
}

// lookupPreference ищет предпочтения пользователя: ярус, затем store.
// Возвращает (запись, статус кэша). Истёкшая запись возвращается с
// статусом expired — она трактуется как отсутствующая при слиянии,
// но её payload-поля нужны для write-back.
func (s *LayoutService) lookupPreference(ctx context.Context, userID string, now time.Time) (*model.UserPreference, model.CacheStatus, error) {
	if p, ok := s.prefCache.Get(userID); ok {
		if p.Expired(now) {
			s.prefCache.Invalidate(userID)
			return p, model.CacheExpired, nil
		}
		return p, model.CacheHit, nil
	}

	p, err := s.prefs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.CacheMiss, nil
		}
		return nil, model.CacheMiss, err
	}
	if p.Expired(now) {
		return p, model.CacheExpired, nil
	}

	// Валидная запись из store — в ярус на остаток срока действия
	if remaining := p.CacheExpiry.Sub(now); remaining > 0 {
		s.prefCache.PutTTL(userID, p, remaining)
	}
	return p, model.CacheHit, nil
}

// resolveMarket возвращает первый рынок при сканировании DN по порядку
// (через мемоизированный разбор), иначе GLOBAL.
func (s *LayoutService) resolveMarket(groupDNs []string) string {
	if s.parse == nil {
		return adgroup.ResolveMarket(groupDNs)
	}
	for _, dn := range groupDNs {
		if attrs := s.parse.Parse(dn); attrs.Market != adgroup.MarketGlobal {
			return attrs.Market
		}
	}
	return adgroup.MarketGlobal
}

// writeBack перезаписывает запись предпочтений служебными данными свежего
// вычисления, перенося пользовательские payload-поля без изменений.
func (s *LayoutService) writeBack(
	ctx context.Context,
	userID, userEmail string,
	prev *model.UserPreference,
	market string,
	baseRoles []string,
	now time.Time,
) {
	p := &model.UserPreference{
		UserID:         userID,
		PrimaryMarket:  market,
		BaseRoles:      baseRoles,
		CacheExpiry:    now.Add(s.prefTTL),
		LastComputedAt: now,
		Source:         model.SourceComputation,
	}
	if userEmail != "" {
		p.Email = &userEmail
	}
	if prev != nil {
		p.ComputedLayout = prev.ComputedLayout
		p.MarketTheme = prev.MarketTheme
		p.EffectivePermissions = prev.EffectivePermissions
		if p.Email == nil {
			p.Email = prev.Email
		}
	}

	if err := s.prefs.Upsert(ctx, p); err != nil {
		s.logger.Warn("Ошибка write-back предпочтений",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.prefCache.Put(userID, p)
}

// mustMarshal сериализует значение в Document.
// Сериализуются только собственные структуры движка — ошибка невозможна.
func mustMarshal(v any) model.Document {
	data, err := json.Marshal(v)
	if err != nil {
		return model.Document(`null`)
	}
	return model.Document(data)
}
