package policy

import (
	"time"

	"github.com/xela07ax/pluginguard/internal/domain"
)

// Thresholds — именованные параметры карантина. В исходной системе это были
// зашитые константы; здесь они переопределяются конфигурацией.
type Thresholds struct {
	Score          int           // Карантин при score > Score
	RapidCount     int           // Порог детектора всплесков (прокидывается в anomaly.Config)
	RapidWindow    time.Duration // Окно детектора всплесков
	CriticalWindow time.Duration // Окно поиска CRITICAL-нарушений
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Score:          50,
		RapidCount:     5,
		RapidWindow:    60 * time.Second,
		CriticalWindow: 24 * time.Hour,
	}
}

type RiskSource interface {
	Score(pluginID string) int
}

type AnomalySource interface {
	HasAnomalies(pluginID string) bool
}

type EventSource interface {
	EventsFor(pluginID string) []domain.SecurityEvent
}

// Quarantine — решающий предикат карантина: OR трех независимых триггеров.
// Идемпотентен и свободен от побочных эффектов; единственная точка принятия
// решения, к которой жизненный цикл обращается после каждого нарушения.
type Quarantine struct {
	risk      RiskSource
	anomalies AnomalySource
	events    EventSource
	th        Thresholds
	now       func() time.Time
}

func NewQuarantine(risk RiskSource, anomalies AnomalySource, events EventSource, th Thresholds) *Quarantine {
	if th.Score <= 0 {
		th = DefaultThresholds()
	}
	return &Quarantine{
		risk:      risk,
		anomalies: anomalies,
		events:    events,
		th:        th,
		now:       time.Now,
	}
}

// ShouldQuarantine: score > порога, ИЛИ есть аномалии, ИЛИ было
// CRITICAL-нарушение в пределах CriticalWindow.
func (q *Quarantine) ShouldQuarantine(pluginID string) bool {
	if q.risk.Score(pluginID) > q.th.Score {
		return true
	}
	if q.anomalies.HasAnomalies(pluginID) {
		return true
	}
	return q.hasRecentCritical(pluginID)
}

func (q *Quarantine) hasRecentCritical(pluginID string) bool {
	cutoff := q.now().Add(-q.th.CriticalWindow)
	for _, raw := range q.events.EventsFor(pluginID) {
		v, ok := raw.(domain.SecurityViolation)
		if !ok {
			continue
		}
		if v.Severity == domain.SeverityCritical && v.Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}
