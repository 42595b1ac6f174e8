package anomaly

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
)

func newTestDetector(cfg Config) (*Detector, *time.Time) {
	d := NewDetector(cfg, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func report(d *Detector, clock *time.Time, pluginID string) {
	d.OnViolation(domain.SecurityViolation{
		EventMeta:     domain.NewEventMeta(pluginID, *clock),
		ViolationType: "UNAUTHORIZED_API_CALL",
		Severity:      domain.SeverityMedium,
	})
}

func TestDetector_RapidBurstTriggersAnomaly(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())

	for i := 0; i < 4; i++ {
		report(d, clock, "p1")
		*clock = clock.Add(time.Second)
	}
	assert.False(t, d.HasAnomalies("p1"), "4 violations must stay under threshold")

	report(d, clock, "p1")
	require.True(t, d.HasAnomalies("p1"))

	anomalies := d.Anomalies("p1")
	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.AnomalyRapidViolations, anomalies[0].Type)
	assert.Equal(t, "p1", anomalies[0].PluginID)
	assert.Contains(t, anomalies[0].Description, "5 violations")
}

func TestDetector_SlowViolationsNeverTrigger(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())

	// 10 нарушений с интервалом больше окна
	for i := 0; i < 10; i++ {
		report(d, clock, "p1")
		*clock = clock.Add(2 * time.Minute)
	}
	assert.False(t, d.HasAnomalies("p1"))
	assert.Empty(t, d.Anomalies("p1"))
}

func TestDetector_SlidingWindowForgetsOldViolations(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())

	// 4 нарушения, затем пауза, выталкивающая их из окна
	for i := 0; i < 4; i++ {
		report(d, clock, "p1")
		*clock = clock.Add(time.Second)
	}
	*clock = clock.Add(2 * time.Minute)

	// Пятое нарушение одно в окне — порог не достигнут
	report(d, clock, "p1")
	assert.False(t, d.HasAnomalies("p1"))
}

func TestDetector_ContinuedBurstWithoutCooldown(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())

	// cooldown не задан: каждый такт продолжающегося всплеска добавляет аномалию
	for i := 0; i < 7; i++ {
		report(d, clock, "p1")
		*clock = clock.Add(time.Second)
	}
	assert.Len(t, d.Anomalies("p1"), 3)
}

func TestDetector_CooldownSuppressesDuplicates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 10 * time.Minute
	d, clock := newTestDetector(cfg)

	for i := 0; i < 7; i++ {
		report(d, clock, "p1")
		*clock = clock.Add(time.Second)
	}
	assert.Len(t, d.Anomalies("p1"), 1)

	// После cooldown новый всплеск снова фиксируется
	*clock = clock.Add(11 * time.Minute)
	for i := 0; i < 5; i++ {
		report(d, clock, "p1")
		*clock = clock.Add(time.Second)
	}
	assert.Len(t, d.Anomalies("p1"), 2)
}

func TestDetector_PluginsAreIsolated(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())

	// По 3 нарушения на каждого из двух плагинов: суммарно 6, порог ни у кого
	for i := 0; i < 3; i++ {
		report(d, clock, "p1")
		report(d, clock, "p2")
		*clock = clock.Add(time.Second)
	}
	assert.False(t, d.HasAnomalies("p1"))
	assert.False(t, d.HasAnomalies("p2"))
}

func TestDetector_ResetClearsState(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())

	for i := 0; i < 5; i++ {
		report(d, clock, "p1")
	}
	require.True(t, d.HasAnomalies("p1"))

	d.Reset("p1")
	assert.False(t, d.HasAnomalies("p1"))
	assert.Empty(t, d.Anomalies("p1"))

	// Счетчик нарушений тоже обнулен: одно новое нарушение порога не дает
	report(d, clock, "p1")
	assert.False(t, d.HasAnomalies("p1"))
}

func TestDetector_AnomaliesReturnsCopy(t *testing.T) {
	d, clock := newTestDetector(DefaultConfig())
	for i := 0; i < 5; i++ {
		report(d, clock, "p1")
	}

	got := d.Anomalies("p1")
	require.NotEmpty(t, got)
	got[0].Description = "mutated"
	assert.NotEqual(t, "mutated", d.Anomalies("p1")[0].Description)
}

func TestDetector_ZeroConfigFallsBackToDefaults(t *testing.T) {
	d := NewDetector(Config{}, zap.NewNop())
	assert.Equal(t, 5, d.cfg.RapidCount)
	assert.Equal(t, 60*time.Second, d.cfg.RapidWindow)
}

func TestDetector_ConcurrentViolations(t *testing.T) {
	d, _ := newTestDetector(DefaultConfig())

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("p%d", g%2)
			for i := 0; i < 50; i++ {
				d.OnViolation(domain.SecurityViolation{
					EventMeta: domain.NewEventMeta(id, time.Now()),
					Severity:  domain.SeverityLow,
				})
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.True(t, d.HasAnomalies("p0"))
	assert.True(t, d.HasAnomalies("p1"))
}
