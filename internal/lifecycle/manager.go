package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/pluginguard/internal/anomaly"
	"github.com/xela07ax/pluginguard/internal/audit"
	"github.com/xela07ax/pluginguard/internal/domain"
	"github.com/xela07ax/pluginguard/internal/infra"
	"github.com/xela07ax/pluginguard/internal/permission"
	"github.com/xela07ax/pluginguard/internal/policy"
	"github.com/xela07ax/pluginguard/internal/risk"
	"go.uber.org/zap"
)

// DefaultErrorThreshold — N последовательных сбоев рантайма до Disabled.
const DefaultErrorThreshold = 3

// StateStore — внешнее хранилище PluginSecurityState. Память первична:
// сбой записи деградирует персистентность, но не движок.
type StateStore interface {
	Save(ctx context.Context, st domain.PluginSecurityState) error
}

// StateNotifier транслирует переходы жизненного цикла наружу
// (Redis pub/sub для соседних инстансов, см. пакет signal).
type StateNotifier interface {
	NotifyState(ctx context.Context, pluginID string, state domain.PluginState)
}

// Manager — конечный автомат безопасности плагина:
//
//	Registered → PermissionPending → Active ⇄ Quarantined → Disabled (+ Error)
//
// Переходы сериализуются помьютексно на каждый pluginID (арена блокировок),
// чтобы два конкурентных нарушения не устроили двойной карантин; разные
// плагины друг с другом не контендят. Переходы не паникуют: неверный вызов
// возвращает ErrInvalidTransition, состояние остается нетронутым.
type Manager struct {
	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	smu    sync.RWMutex
	states map[string]*domain.PluginSecurityState

	perms      *permission.Manager
	quarantine *policy.Quarantine
	detector   *anomaly.Detector
	scorer     *risk.Scorer
	log        *audit.EventLog

	store    StateStore    // может быть nil
	notifier StateNotifier // может быть nil
	metrics  *infra.Metrics
	logger   *zap.Logger
	now      func() time.Time

	errorThreshold int
}

func NewManager(
	perms *permission.Manager,
	quarantine *policy.Quarantine,
	detector *anomaly.Detector,
	scorer *risk.Scorer,
	log *audit.EventLog,
	store StateStore,
	notifier StateNotifier,
	metrics *infra.Metrics,
	errorThreshold int,
	logger *zap.Logger,
) *Manager {
	if errorThreshold <= 0 {
		errorThreshold = DefaultErrorThreshold
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Manager{
		locks:          make(map[string]*sync.Mutex),
		states:         make(map[string]*domain.PluginSecurityState),
		perms:          perms,
		quarantine:     quarantine,
		detector:       detector,
		scorer:         scorer,
		log:            log,
		store:          store,
		notifier:       notifier,
		metrics:        metrics,
		logger:         logger.Named("lifecycle"),
		now:            time.Now,
		errorThreshold: errorThreshold,
	}
}

// lockFor выдает мьютекс конкретного плагина (ленивое создание в арене).
func (m *Manager) lockFor(pluginID string) *sync.Mutex {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	l, ok := m.locks[pluginID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[pluginID] = l
	}
	return l
}

func (m *Manager) stateFor(pluginID string) (*domain.PluginSecurityState, bool) {
	m.smu.RLock()
	defer m.smu.RUnlock()
	st, ok := m.states[pluginID]
	return st, ok
}

// Register принимает манифест плагина и заводит запись жизненного цикла.
// Повторная регистрация возможна только из Disabled — это и есть
// «сброс»: детектор аномалий очищается, манифест заменяется.
func (m *Manager) Register(ctx context.Context, pluginID string, requested []domain.Capability, configuration []byte) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	if st, ok := m.stateFor(pluginID); ok {
		if st.State != domain.StateDisabled {
			return fmt.Errorf("plugin %s in state %s: %w", pluginID, st.State, domain.ErrAlreadyRegistered)
		}
		if err := m.perms.Reregister(pluginID, requested); err != nil {
			return err
		}
		m.detector.Reset(pluginID)
	} else {
		if err := m.perms.Register(pluginID, requested); err != nil {
			return err
		}
	}

	st := &domain.PluginSecurityState{
		PluginID:      pluginID,
		State:         domain.StateRegistered,
		Configuration: configuration,
	}
	m.smu.Lock()
	m.states[pluginID] = st
	m.smu.Unlock()

	m.logger.Info("plugin registered",
		zap.String("plugin_id", pluginID),
		zap.Int("requested", len(requested)),
	)
	m.persist(ctx, *st)
	m.notify(ctx, pluginID, st.State)
	return nil
}

// Enable — пользователь включает плагин: Registered → PermissionPending,
// запрос прав уходит в журнал.
func (m *Manager) Enable(ctx context.Context, pluginID string) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	if st.State != domain.StateRegistered {
		return fmt.Errorf("enable from %s: %w", st.State, domain.ErrInvalidTransition)
	}

	if err := m.perms.RecordRequest(pluginID); err != nil {
		return err
	}
	m.metrics.EventsTotal.WithLabelValues(string(domain.KindPermissionRequested)).Inc()

	st.State = domain.StatePermissionPending
	m.persist(ctx, *st)
	m.notify(ctx, pluginID, st.State)
	return nil
}

// Grant применяет решение пользователя. Переход в Active происходит только
// если выдан хотя бы один грант; capability вне манифеста репортятся
// ошибкой ErrInvalidCapability, но не ломают выдачу остальных.
func (m *Manager) Grant(ctx context.Context, pluginID string, caps []domain.Capability) ([]domain.Capability, error) {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	if st.State != domain.StatePermissionPending {
		return nil, fmt.Errorf("grant in state %s: %w", st.State, domain.ErrInvalidTransition)
	}

	granted, gerr := m.perms.Grant(pluginID, caps)
	for range granted {
		m.metrics.EventsTotal.WithLabelValues(string(domain.KindPermissionGranted)).Inc()
	}

	if len(granted) > 0 {
		st.State = domain.StateActive
		st.IsCollecting = true
		m.logger.Info("plugin activated",
			zap.String("plugin_id", pluginID),
			zap.Int("granted", len(granted)),
		)
		m.persist(ctx, *st)
		m.notify(ctx, pluginID, st.State)
	}
	return granted, gerr
}

// Deny фиксирует отказ пользователя. Если отказ покрывает весь запрошенный
// набор и грантов нет — плагин возвращается в Registered.
func (m *Manager) Deny(ctx context.Context, pluginID string, caps []domain.Capability) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	if st.State != domain.StatePermissionPending {
		return fmt.Errorf("deny in state %s: %w", st.State, domain.ErrInvalidTransition)
	}

	m.perms.Deny(pluginID, caps)
	for range caps {
		m.metrics.EventsTotal.WithLabelValues(string(domain.KindPermissionDenied)).Inc()
	}

	if m.deniesAllRequested(pluginID, caps) && !m.perms.HasAnyGrant(pluginID) {
		st.State = domain.StateRegistered
		m.persist(ctx, *st)
		m.notify(ctx, pluginID, st.State)
	}
	return nil
}

func (m *Manager) deniesAllRequested(pluginID string, denied []domain.Capability) bool {
	mf, ok := m.perms.ManifestFor(pluginID)
	if !ok {
		return false
	}
	set := make(map[domain.Capability]struct{}, len(denied))
	for _, c := range denied {
		set[c] = struct{}{}
	}
	for _, c := range mf.Requested {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

// Disable — ручное отключение пользователем. Гранты отзываются тотально.
func (m *Manager) Disable(ctx context.Context, pluginID string) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	switch st.State {
	case domain.StateActive, domain.StatePermissionPending, domain.StateRegistered, domain.StateError:
	default:
		return fmt.Errorf("disable from %s: %w", st.State, domain.ErrInvalidTransition)
	}

	m.perms.RevokeAll(pluginID)
	st.State = domain.StateDisabled
	st.IsCollecting = false
	m.persist(ctx, *st)
	m.notify(ctx, pluginID, st.State)
	return nil
}

// Reenable — пользователь включает отключенный плагин заново: права
// перезапрашиваются, история нарушений и аномалий НЕ очищается — риск
// ранее карантиненного плагина остается повышенным, пока журнал не
// состарит события. Счетчик сбоев получает свежий бюджет.
func (m *Manager) Reenable(ctx context.Context, pluginID string) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	if st.State != domain.StateDisabled {
		return fmt.Errorf("reenable from %s: %w", st.State, domain.ErrInvalidTransition)
	}

	if err := m.perms.RecordRequest(pluginID); err != nil {
		return err
	}
	m.metrics.EventsTotal.WithLabelValues(string(domain.KindPermissionRequested)).Inc()

	st.State = domain.StatePermissionPending
	st.ErrorCount = 0
	st.LastError = ""
	m.persist(ctx, *st)
	m.notify(ctx, pluginID, st.State)
	return nil
}

// ReportViolation фиксирует нарушение политики. Никогда не возвращает
// ошибку — нарушение это данные, а не исключение. Сразу после записи
// синхронно оценивается карантин.
func (m *Manager) ReportViolation(ctx context.Context, pluginID, violationType string, severity domain.Severity, details string) {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	ev := domain.SecurityViolation{
		EventMeta:     domain.NewEventMeta(pluginID, m.now()),
		ViolationType: violationType,
		Severity:      severity,
		Details:       details,
	}
	m.log.Record(ev)
	m.detector.OnViolation(ev)
	m.metrics.EventsTotal.WithLabelValues(string(domain.KindSecurityViolation)).Inc()
	m.metrics.ViolationsTotal.WithLabelValues(string(severity)).Inc()

	st, ok := m.stateFor(pluginID)
	if !ok || st.State != domain.StateActive {
		return
	}
	if !m.quarantine.ShouldQuarantine(pluginID) {
		return
	}
	m.quarantineLocked(ctx, st)
}

// quarantineLocked: Active → Quarantined → Disabled. Карантин — security-исход,
// а не сбой: ErrorCount не трогаем. Из карантина нет автоматического
// возврата, переход в Disabled безусловный.
func (m *Manager) quarantineLocked(ctx context.Context, st *domain.PluginSecurityState) {
	m.perms.RevokeAll(st.PluginID)
	st.State = domain.StateQuarantined
	st.IsCollecting = false
	m.metrics.QuarantinesTotal.Inc()
	m.logger.Warn("plugin quarantined",
		zap.String("plugin_id", st.PluginID),
		zap.Int("risk_score", m.scorer.Score(st.PluginID)),
	)
	m.persist(ctx, *st)
	m.notify(ctx, st.PluginID, st.State)

	st.State = domain.StateDisabled
	m.persist(ctx, *st)
	m.notify(ctx, st.PluginID, st.State)
}

// ReportDataAccess фиксирует обращение плагина к данным.
func (m *Manager) ReportDataAccess(ctx context.Context, pluginID string, accessType domain.AccessType, recordCount int) {
	m.log.Record(domain.DataAccess{
		EventMeta:   domain.NewEventMeta(pluginID, m.now()),
		AccessType:  accessType,
		RecordCount: recordCount,
	})
	m.metrics.EventsTotal.WithLabelValues(string(domain.KindDataAccess)).Inc()
}

// RecordError — сбой рантайма вне модели безопасности (RuntimeFault).
// На пороге последовательных сбоев плагин проходит через Error и
// принудительно отключается с заполненным LastError.
func (m *Manager) RecordError(ctx context.Context, pluginID, message string) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	if st.State == domain.StateDisabled {
		return fmt.Errorf("record error in state %s: %w", st.State, domain.ErrInvalidTransition)
	}

	st.ErrorCount++
	st.LastError = message

	if st.ErrorCount < m.errorThreshold {
		m.persist(ctx, *st)
		return nil
	}

	m.logger.Error("error threshold reached, disabling plugin",
		zap.String("plugin_id", pluginID),
		zap.Int("error_count", st.ErrorCount),
		zap.String("last_error", message),
	)
	st.State = domain.StateError
	m.persist(ctx, *st)
	m.notify(ctx, pluginID, st.State)

	m.perms.RevokeAll(pluginID)
	st.State = domain.StateDisabled
	st.IsCollecting = false
	m.persist(ctx, *st)
	m.notify(ctx, pluginID, st.State)
	return nil
}

// RecordSuccess сбрасывает счетчик последовательных сбоев.
func (m *Manager) RecordSuccess(ctx context.Context, pluginID string) error {
	l := m.lockFor(pluginID)
	l.Lock()
	defer l.Unlock()

	st, ok := m.stateFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}
	if st.ErrorCount == 0 && st.LastError == "" {
		return nil
	}
	st.ErrorCount = 0
	st.LastError = ""
	m.persist(ctx, *st)
	return nil
}

// StateOf возвращает копию текущей записи жизненного цикла.
func (m *Manager) StateOf(pluginID string) (domain.PluginSecurityState, bool) {
	st, ok := m.stateFor(pluginID)
	if !ok {
		return domain.PluginSecurityState{}, false
	}
	return *st, true
}

// Summary пересчитывает проекцию по журналу. Источник правды — события,
// проекция нигде не хранится.
func (m *Manager) Summary(pluginID string) domain.SecuritySummary {
	s := domain.SecuritySummary{PluginID: pluginID}
	for _, raw := range m.log.EventsFor(pluginID) {
		s.TotalEvents++
		s.LastEventTime = raw.EventTime()
		switch raw.(type) {
		case domain.SecurityViolation:
			s.ViolationCount++
		case domain.PermissionDenied:
			s.DeniedCount++
		case domain.DataAccess:
			s.DataAccessCount++
		case domain.PermissionRequested, domain.PermissionGranted:
		}
	}
	s.RiskScore = m.scorer.Score(pluginID)
	return s
}

// Anomalies — активные аномалии плагина (для "at-risk" представлений).
func (m *Manager) Anomalies(pluginID string) []domain.Anomaly {
	return m.detector.Anomalies(pluginID)
}

func (m *Manager) persist(ctx context.Context, st domain.PluginSecurityState) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, st); err != nil {
		// Память авторитетна для текущей сессии; ретраи внутри store
		m.logger.Warn("state persistence degraded",
			zap.String("plugin_id", st.PluginID),
			zap.String("state", string(st.State)),
			zap.Error(err),
		)
	}
}

func (m *Manager) notify(ctx context.Context, pluginID string, state domain.PluginState) {
	if m.notifier == nil {
		return
	}
	m.notifier.NotifyState(ctx, pluginID, state)
}
