package risk

import (
	"github.com/xela07ax/pluginguard/internal/domain"
)

// Веса аккумуляции. Свертка коммутативна: перестановка событий не меняет итог.
const (
	weightViolationLow      = 1
	weightViolationMedium   = 5
	weightViolationHigh     = 10
	weightViolationCritical = 20
	weightPermissionDenied  = 2
	weightDeleteAccess      = 3
	weightBulkAccess        = 2 // record_count > bulkAccessRecords, аддитивно с DELETE

	bulkAccessRecords = 100

	// MaxScore — верхняя граница итоговой оценки
	MaxScore = 100
)

// EventSource — read-only доступ к журналу событий.
type EventSource interface {
	EventsFor(pluginID string) []domain.SecurityEvent
}

// Scorer сворачивает историю событий плагина в ограниченную оценку риска [0,100].
// Чистая детерминированная функция без скрытого взвешивания по свежести.
// Пересчитывается лениво на каждый вызов: при ограниченном журнале
// стоимость пересчета дешевле кэш-инвалидации.
type Scorer struct {
	events EventSource
}

func NewScorer(events EventSource) *Scorer {
	return &Scorer{events: events}
}

// Score возвращает оценку риска плагина, ограниченную [0, MaxScore].
func (s *Scorer) Score(pluginID string) int {
	total := 0
	for _, raw := range s.events.EventsFor(pluginID) {
		switch ev := raw.(type) {
		case domain.SecurityViolation:
			total += severityWeight(ev.Severity)
		case domain.PermissionDenied:
			total += weightPermissionDenied
		case domain.DataAccess:
			if ev.AccessType == domain.AccessDelete {
				total += weightDeleteAccess
			}
			if ev.RecordCount > bulkAccessRecords {
				total += weightBulkAccess
			}
		case domain.PermissionRequested, domain.PermissionGranted:
			// Запросы и выдачи прав риск не повышают
		}
	}

	if total > MaxScore {
		return MaxScore
	}
	if total < 0 {
		return 0
	}
	return total
}

func severityWeight(sev domain.Severity) int {
	switch sev {
	case domain.SeverityLow:
		return weightViolationLow
	case domain.SeverityMedium:
		return weightViolationMedium
	case domain.SeverityHigh:
		return weightViolationHigh
	case domain.SeverityCritical:
		return weightViolationCritical
	}
	return 0
}
