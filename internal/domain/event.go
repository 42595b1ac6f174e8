package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity — уровень серьезности нарушения.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AccessType — тип обращения плагина к данным.
type AccessType string

const (
	AccessRead   AccessType = "READ"
	AccessWrite  AccessType = "WRITE"
	AccessDelete AccessType = "DELETE"
)

// EventKind — дискриминатор варианта SecurityEvent (для персистентности и метрик).
type EventKind string

const (
	KindPermissionRequested EventKind = "PERMISSION_REQUESTED"
	KindPermissionGranted   EventKind = "PERMISSION_GRANTED"
	KindPermissionDenied    EventKind = "PERMISSION_DENIED"
	KindSecurityViolation   EventKind = "SECURITY_VIOLATION"
	KindDataAccess          EventKind = "DATA_ACCESS"
)

// SecurityEvent — закрытое размеченное объединение событий безопасности.
// Набор вариантов фиксирован: PermissionRequested, PermissionGranted,
// PermissionDenied, SecurityViolation, DataAccess. Новые варианты вне пакета
// невозможны (маркер isSecurityEvent не экспортируется), поэтому type switch
// по всем пяти типам покрывает объединение целиком.
// События неизменяемы после записи; порядок — по вставке в журнал.
type SecurityEvent interface {
	EventID() string
	EventPluginID() string
	EventTime() time.Time
	Kind() EventKind
	isSecurityEvent()
}

// EventMeta — общие поля всех вариантов.
type EventMeta struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"plugin_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventMeta выдает метаданные с новым UUID.
func NewEventMeta(pluginID string, ts time.Time) EventMeta {
	return EventMeta{ID: uuid.New().String(), PluginID: pluginID, Timestamp: ts}
}

func (m EventMeta) EventID() string       { return m.ID }
func (m EventMeta) EventPluginID() string { return m.PluginID }
func (m EventMeta) EventTime() time.Time  { return m.Timestamp }
func (m EventMeta) isSecurityEvent()      {}

// PermissionRequested — плагин запросил набор capability (регистрация/enable).
type PermissionRequested struct {
	EventMeta
	Capabilities []Capability `json:"capabilities"`
}

func (PermissionRequested) Kind() EventKind { return KindPermissionRequested }

// PermissionGranted — пользователь разрешил конкретную capability.
type PermissionGranted struct {
	EventMeta
	Capability Capability `json:"capability"`
}

func (PermissionGranted) Kind() EventKind { return KindPermissionGranted }

// PermissionDenied — отказ: решение пользователя либо fail-closed срабатывание
// рантайм-гейта. Это данные, а не ошибка — ожидаемый и частый путь.
type PermissionDenied struct {
	EventMeta
	Capability Capability `json:"capability"`
}

func (PermissionDenied) Kind() EventKind { return KindPermissionDenied }

// SecurityViolation — зафиксированное нарушение политики во время работы плагина.
type SecurityViolation struct {
	EventMeta
	ViolationType string   `json:"violation_type"`
	Severity      Severity `json:"severity"`
	Details       string   `json:"details"`
}

func (SecurityViolation) Kind() EventKind { return KindSecurityViolation }

// DataAccess — обращение плагина к пользовательским данным.
type DataAccess struct {
	EventMeta
	AccessType  AccessType `json:"access_type"`
	RecordCount int        `json:"record_count"`
}

func (DataAccess) Kind() EventKind { return KindDataAccess }
