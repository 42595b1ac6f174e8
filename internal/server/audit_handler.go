package server

import (
	"net/http"

	"github.com/xela07ax/pluginguard/internal/audit"
	"github.com/xela07ax/pluginguard/internal/domain"
)

type AuditHandler struct {
	log *audit.EventLog
}

func NewAuditHandler(log *audit.EventLog) *AuditHandler {
	return &AuditHandler{log: log}
}

// eventEnvelope сохраняет дискриминатор варианта при сериализации объединения.
type eventEnvelope struct {
	Kind  domain.EventKind     `json:"kind"`
	Event domain.SecurityEvent `json:"event"`
}

// GetEvents возвращает ограниченный снимок журнала (самое свежее — последним).
// GET /v1/audit?plugin_id=...
func (h *AuditHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	pluginID := r.URL.Query().Get("plugin_id")

	var events []domain.SecurityEvent
	if pluginID != "" {
		events = h.log.EventsFor(pluginID)
	} else {
		events = h.log.Snapshot()
	}

	out := make([]eventEnvelope, len(events))
	for i, ev := range events {
		out[i] = eventEnvelope{Kind: ev.Kind(), Event: ev}
	}
	writeJSON(w, out)
}
