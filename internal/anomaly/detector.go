package anomaly

import (
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
)

// Config — именованные параметры детектора. Значения по умолчанию повторяют
// поведение исходной системы; cooldown по умолчанию выключен, то есть
// продолжающийся всплеск добавляет аномалию на каждое новое нарушение.
type Config struct {
	RapidWindow time.Duration // Скользящее окно подсчета нарушений
	RapidCount  int           // Порог срабатывания RAPID_VIOLATIONS
	Cooldown    time.Duration // Подавление повторных аномалий; 0 — без дедупликации
}

func DefaultConfig() Config {
	return Config{
		RapidWindow: 60 * time.Second,
		RapidCount:  5,
	}
}

// bucket — состояние одного плагина. Собственный мьютекс: плагины никогда
// не сериализуются друг против друга.
type bucket struct {
	mu         sync.Mutex
	violations []time.Time
	anomalies  []domain.Anomaly
	lastRapid  time.Time
}

// Detector ведет поплагинные счетчики нарушений в скользящем окне и
// порождает записи Anomaly при пересечении порога. Аномалии не очищаются
// автоматически — только явным сбросом жизненного цикла (Reset).
type Detector struct {
	mu      sync.RWMutex // защищает только мапу бакетов
	buckets map[string]*bucket

	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.RapidCount <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		logger:  logger.Named("anomaly"),
		now:     time.Now,
	}
}

func (d *Detector) bucketFor(pluginID string) *bucket {
	d.mu.RLock()
	b, ok := d.buckets[pluginID]
	d.mu.RUnlock()
	if ok {
		return b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok = d.buckets[pluginID]; !ok {
		b = &bucket{}
		d.buckets[pluginID] = b
	}
	return b
}

// OnViolation вызывается синхронно сразу после записи SecurityViolation в журнал.
// Правило RAPID_VIOLATIONS переоценивается на каждом новом нарушении.
func (d *Detector) OnViolation(v domain.SecurityViolation) {
	now := d.now()
	windowStart := now.Add(-d.cfg.RapidWindow)

	b := d.bucketFor(v.PluginID)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Нарушения старше окна больше не влияют на правило — подрезаем
	kept := b.violations[:0]
	for _, ts := range b.violations {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	b.violations = append(kept, v.Timestamp)

	inWindow := 0
	for _, ts := range b.violations {
		if ts.After(windowStart) {
			inWindow++
		}
	}
	if inWindow < d.cfg.RapidCount {
		return
	}

	if d.cfg.Cooldown > 0 && !b.lastRapid.IsZero() && now.Sub(b.lastRapid) < d.cfg.Cooldown {
		return
	}
	b.lastRapid = now

	b.anomalies = append(b.anomalies, domain.Anomaly{
		PluginID: v.PluginID,
		Type:     domain.AnomalyRapidViolations,
		Description: fmt.Sprintf("%d violations within %s (threshold %d)",
			inWindow, d.cfg.RapidWindow, d.cfg.RapidCount),
		Timestamp: now,
	})

	d.logger.Warn("RAPID_VIOLATIONS detected",
		zap.String("plugin_id", v.PluginID),
		zap.Int("in_window", inWindow),
	)
}

// HasAnomalies — true, если список аномалий плагина непуст.
func (d *Detector) HasAnomalies(pluginID string) bool {
	d.mu.RLock()
	b, ok := d.buckets[pluginID]
	d.mu.RUnlock()
	if !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.anomalies) > 0
}

// Anomalies возвращает копию списка аномалий плагина.
func (d *Detector) Anomalies(pluginID string) []domain.Anomaly {
	d.mu.RLock()
	b, ok := d.buckets[pluginID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Anomaly, len(b.anomalies))
	copy(out, b.anomalies)
	return out
}

// Reset сбрасывает состояние плагина. Вызывается только при перерегистрации
// после Disabled.
func (d *Detector) Reset(pluginID string) {
	d.mu.Lock()
	delete(d.buckets, pluginID)
	d.mu.Unlock()
}
