package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/pluginguard/internal/domain"
)

type riskStub struct{ score int }

func (r riskStub) Score(string) int { return r.score }

type anomalyStub struct{ has bool }

func (a anomalyStub) HasAnomalies(string) bool { return a.has }

type eventsStub struct{ events []domain.SecurityEvent }

func (e eventsStub) EventsFor(string) []domain.SecurityEvent { return e.events }

func criticalAt(ts time.Time) domain.SecurityEvent {
	return domain.SecurityViolation{
		EventMeta:     domain.NewEventMeta("p1", ts),
		ViolationType: "DATA_EXFILTRATION",
		Severity:      domain.SeverityCritical,
	}
}

func TestShouldQuarantine_ScoreAboveThreshold(t *testing.T) {
	q := NewQuarantine(riskStub{51}, anomalyStub{}, eventsStub{}, DefaultThresholds())
	assert.True(t, q.ShouldQuarantine("p1"))
}

func TestShouldQuarantine_ScoreAtThresholdIsSafe(t *testing.T) {
	// Порог строгий: ровно 50 карантин не включает
	q := NewQuarantine(riskStub{50}, anomalyStub{}, eventsStub{}, DefaultThresholds())
	assert.False(t, q.ShouldQuarantine("p1"))
}

func TestShouldQuarantine_ModerateHistoryIsSafe(t *testing.T) {
	// 3 MEDIUM + 2 отказа + 1 DELETE = 22: заметно, но не карантин
	q := NewQuarantine(riskStub{22}, anomalyStub{}, eventsStub{}, DefaultThresholds())
	assert.False(t, q.ShouldQuarantine("p1"))
}

func TestShouldQuarantine_ActiveAnomalyAlone(t *testing.T) {
	q := NewQuarantine(riskStub{0}, anomalyStub{has: true}, eventsStub{}, DefaultThresholds())
	assert.True(t, q.ShouldQuarantine("p1"))
}

func TestShouldQuarantine_RecentCriticalAlone(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q := NewQuarantine(riskStub{0}, anomalyStub{},
		eventsStub{events: []domain.SecurityEvent{criticalAt(now.Add(-time.Hour))}},
		DefaultThresholds())
	q.now = func() time.Time { return now }

	assert.True(t, q.ShouldQuarantine("p1"))
}

func TestShouldQuarantine_StaleCriticalIgnored(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q := NewQuarantine(riskStub{0}, anomalyStub{},
		eventsStub{events: []domain.SecurityEvent{criticalAt(now.Add(-25 * time.Hour))}},
		DefaultThresholds())
	q.now = func() time.Time { return now }

	assert.False(t, q.ShouldQuarantine("p1"))
}

func TestShouldQuarantine_NonCriticalViolationsIgnoredByWindowRule(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	high := domain.SecurityViolation{
		EventMeta: domain.NewEventMeta("p1", now.Add(-time.Minute)),
		Severity:  domain.SeverityHigh,
	}
	q := NewQuarantine(riskStub{0}, anomalyStub{},
		eventsStub{events: []domain.SecurityEvent{high}}, DefaultThresholds())
	q.now = func() time.Time { return now }

	assert.False(t, q.ShouldQuarantine("p1"))
}

func TestNewQuarantine_ZeroThresholdsFallBackToDefaults(t *testing.T) {
	q := NewQuarantine(riskStub{51}, anomalyStub{}, eventsStub{}, Thresholds{})
	assert.Equal(t, 50, q.th.Score)
	assert.True(t, q.ShouldQuarantine("p1"))
}
