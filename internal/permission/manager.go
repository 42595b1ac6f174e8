package permission

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/pluginguard/internal/audit"
	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
)

// Manager — единственный владелец грантов. Решение «выдано/не выдано» живет
// только здесь; все изменения проходят через журнал событий.
// Грант аддитивен и отзываем; отзыв всегда тотальный (RevokeAll).
type Manager struct {
	mu        sync.RWMutex
	manifests map[string]domain.SecurityManifest
	grants    map[string]map[domain.Capability]time.Time

	catalog *domain.Catalog
	log     *audit.EventLog
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(catalog *domain.Catalog, log *audit.EventLog, logger *zap.Logger) *Manager {
	return &Manager{
		manifests: make(map[string]domain.SecurityManifest),
		grants:    make(map[string]map[domain.Capability]time.Time),
		catalog:   catalog,
		log:       log,
		logger:    logger.Named("permissions"),
		now:       time.Now,
	}
}

// Register фиксирует неизменяемый манифест плагина. Неизвестные каталогу
// capability отклоняются целиком — регистрация не происходит.
func (m *Manager) Register(pluginID string, requested []domain.Capability) error {
	if err := m.catalog.Validate(requested); err != nil {
		return err
	}

	caps := make([]domain.Capability, len(requested))
	copy(caps, requested)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.manifests[pluginID]; ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrAlreadyRegistered)
	}
	m.manifests[pluginID] = domain.SecurityManifest{
		PluginID:     pluginID,
		Requested:    caps,
		RegisteredAt: m.now(),
	}
	return nil
}

// Reregister заменяет манифест (смена набора capability = перерегистрация).
// Старые гранты при этом не переживают смену манифеста.
func (m *Manager) Reregister(pluginID string, requested []domain.Capability) error {
	if err := m.catalog.Validate(requested); err != nil {
		return err
	}

	caps := make([]domain.Capability, len(requested))
	copy(caps, requested)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[pluginID] = domain.SecurityManifest{
		PluginID:     pluginID,
		Requested:    caps,
		RegisteredAt: m.now(),
	}
	delete(m.grants, pluginID)
	return nil
}

// ManifestFor возвращает манифест плагина.
func (m *Manager) ManifestFor(pluginID string) (domain.SecurityManifest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mf, ok := m.manifests[pluginID]
	return mf, ok
}

// RecordRequest пишет PermissionRequested со всем запрошенным набором.
// Вызывается жизненным циклом при переходе в PermissionPending.
func (m *Manager) RecordRequest(pluginID string) error {
	mf, ok := m.ManifestFor(pluginID)
	if !ok {
		return fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}

	m.log.Record(domain.PermissionRequested{
		EventMeta:    domain.NewEventMeta(pluginID, m.now()),
		Capabilities: mf.Requested,
	})
	return nil
}

// Grant выдает гранты по пересечению caps с запрошенным набором плагина.
// Каждая валидная capability получает грант и событие PermissionGranted.
// Capability вне манифеста не выдаются и возвращаются в ошибке
// (ErrInvalidCapability) — частичный успех возможен и репортится явно.
func (m *Manager) Grant(pluginID string, caps []domain.Capability) ([]domain.Capability, error) {
	mf, ok := m.ManifestFor(pluginID)
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", pluginID, domain.ErrUnknownPlugin)
	}

	var granted, rejected []domain.Capability
	now := m.now()

	m.mu.Lock()
	for _, cap := range caps {
		if !mf.Requests(cap) || !m.catalog.Has(cap) {
			rejected = append(rejected, cap)
			continue
		}
		if m.grants[pluginID] == nil {
			m.grants[pluginID] = make(map[domain.Capability]time.Time)
		}
		m.grants[pluginID][cap] = now
		granted = append(granted, cap)
	}
	m.mu.Unlock()

	for _, cap := range granted {
		m.log.Record(domain.PermissionGranted{
			EventMeta:  domain.NewEventMeta(pluginID, now),
			Capability: cap,
		})
	}

	if len(rejected) > 0 {
		m.logger.Warn("grant rejected capabilities outside manifest",
			zap.String("plugin_id", pluginID),
			zap.Int("rejected", len(rejected)),
		)
		return granted, fmt.Errorf("capabilities %v not in manifest of %s: %w",
			rejected, pluginID, domain.ErrInvalidCapability)
	}
	return granted, nil
}

// Deny пишет PermissionDenied на каждую capability. Грантов не создает.
func (m *Manager) Deny(pluginID string, caps []domain.Capability) {
	now := m.now()
	for _, cap := range caps {
		m.log.Record(domain.PermissionDenied{
			EventMeta:  domain.NewEventMeta(pluginID, now),
			Capability: cap,
		})
	}
}

// IsGranted — чистый fail-closed lookup: отсутствие гранта есть
// авторитетный отказ, никакого default-allow.
func (m *Manager) IsGranted(pluginID string, cap domain.Capability) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grants[pluginID][cap]
	return ok
}

// Authorize — гейт для рантайма плагинов перед каждым capability-действием.
// Отказ фиксируется ровно одним событием PermissionDenied на попытку;
// само действие выполняться не должно.
func (m *Manager) Authorize(pluginID string, cap domain.Capability) bool {
	if m.IsGranted(pluginID, cap) {
		return true
	}

	m.log.Record(domain.PermissionDenied{
		EventMeta:  domain.NewEventMeta(pluginID, m.now()),
		Capability: cap,
	})
	return false
}

// HasAnyGrant сообщает, остался ли у плагина хотя бы один грант.
func (m *Manager) HasAnyGrant(pluginID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grants[pluginID]) > 0
}

// Granted возвращает отсортированный список выданных capability.
func (m *Manager) Granted(pluginID string) []domain.Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Capability, 0, len(m.grants[pluginID]))
	for cap := range m.grants[pluginID] {
		out = append(out, cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RevokeAll атомарно снимает все гранты плагина. Используется исключительно
// путями карантина и ручного отключения — частичного отзыва не существует.
func (m *Manager) RevokeAll(pluginID string) {
	m.mu.Lock()
	delete(m.grants, pluginID)
	m.mu.Unlock()

	m.logger.Info("all grants revoked", zap.String("plugin_id", pluginID))
}
