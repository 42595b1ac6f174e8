package domain

import "time"

// AnomalyRapidViolations — всплеск нарушений: >= N нарушений внутри скользящего окна.
const AnomalyRapidViolations = "RAPID_VIOLATIONS"

// Anomaly — обнаруженный поведенческий паттерн (производные данные детектора).
// Для всех остальных компонентов — read-only.
type Anomaly struct {
	PluginID    string    `json:"plugin_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// SecuritySummary — вычисляемая проекция по плагину. Не персистируется,
// пересчитывается по требованию из журнала событий.
type SecuritySummary struct {
	PluginID        string    `json:"plugin_id"`
	TotalEvents     int       `json:"total_events"`
	ViolationCount  int       `json:"violation_count"`
	DeniedCount     int       `json:"denied_count"`
	DataAccessCount int       `json:"data_access_count"`
	RiskScore       int       `json:"risk_score"` // [0,100]
	LastEventTime   time.Time `json:"last_event_time"`
}
