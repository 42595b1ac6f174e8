package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/pluginguard/internal/domain"
)

type stubEvents struct {
	byPlugin map[string][]domain.SecurityEvent
}

func (s *stubEvents) EventsFor(pluginID string) []domain.SecurityEvent {
	return s.byPlugin[pluginID]
}

func meta(pluginID string) domain.EventMeta {
	return domain.NewEventMeta(pluginID, time.Now())
}

func violation(pluginID string, sev domain.Severity) domain.SecurityEvent {
	return domain.SecurityViolation{EventMeta: meta(pluginID), ViolationType: "X", Severity: sev}
}

func denied(pluginID string) domain.SecurityEvent {
	return domain.PermissionDenied{EventMeta: meta(pluginID), Capability: "network"}
}

func access(pluginID string, at domain.AccessType, count int) domain.SecurityEvent {
	return domain.DataAccess{EventMeta: meta(pluginID), AccessType: at, RecordCount: count}
}

func scoreOf(events ...domain.SecurityEvent) int {
	src := &stubEvents{byPlugin: map[string][]domain.SecurityEvent{"p1": events}}
	return NewScorer(src).Score("p1")
}

func TestScore_EmptyHistoryIsZero(t *testing.T) {
	assert.Equal(t, 0, scoreOf())
}

func TestScore_ReferenceExample(t *testing.T) {
	// 3 MEDIUM нарушения + 2 отказа + 1 DELETE (<=100 записей) = 15 + 4 + 3
	got := scoreOf(
		violation("p1", domain.SeverityMedium),
		violation("p1", domain.SeverityMedium),
		violation("p1", domain.SeverityMedium),
		denied("p1"),
		denied("p1"),
		access("p1", domain.AccessDelete, 10),
	)
	assert.Equal(t, 22, got)
}

func TestScore_SeverityWeights(t *testing.T) {
	tests := []struct {
		sev  domain.Severity
		want int
	}{
		{domain.SeverityLow, 1},
		{domain.SeverityMedium, 5},
		{domain.SeverityHigh, 10},
		{domain.SeverityCritical, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scoreOf(violation("p1", tt.sev)), "severity %s", tt.sev)
	}
}

func TestScore_DeleteAndBulkAreAdditive(t *testing.T) {
	// DELETE (+3) и объем >100 (+2) складываются в одном событии
	assert.Equal(t, 5, scoreOf(access("p1", domain.AccessDelete, 150)))
	// READ большого объема дает только надбавку за объем
	assert.Equal(t, 2, scoreOf(access("p1", domain.AccessRead, 150)))
	// Ровно 100 записей — не bulk
	assert.Equal(t, 0, scoreOf(access("p1", domain.AccessRead, 100)))
}

func TestScore_GrantsAndRequestsAreNeutral(t *testing.T) {
	got := scoreOf(
		domain.PermissionRequested{EventMeta: meta("p1"), Capabilities: []domain.Capability{"network"}},
		domain.PermissionGranted{EventMeta: meta("p1"), Capability: "network"},
	)
	assert.Equal(t, 0, got)
}

func TestScore_ClampedAtMax(t *testing.T) {
	var events []domain.SecurityEvent
	for i := 0; i < 10; i++ {
		events = append(events, violation("p1", domain.SeverityCritical))
	}
	assert.Equal(t, MaxScore, scoreOf(events...))
}

func TestScore_OrderIndependent(t *testing.T) {
	events := []domain.SecurityEvent{
		violation("p1", domain.SeverityHigh),
		denied("p1"),
		access("p1", domain.AccessDelete, 200),
		violation("p1", domain.SeverityLow),
		denied("p1"),
	}
	want := scoreOf(events...)

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		shuffled := make([]domain.SecurityEvent, len(events))
		copy(shuffled, events)
		rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, scoreOf(shuffled...))
	}
}

func TestScore_IsolatedPerPlugin(t *testing.T) {
	src := &stubEvents{byPlugin: map[string][]domain.SecurityEvent{
		"noisy": {violation("noisy", domain.SeverityCritical)},
	}}
	s := NewScorer(src)
	assert.Equal(t, 20, s.Score("noisy"))
	assert.Equal(t, 0, s.Score("quiet"))
}
