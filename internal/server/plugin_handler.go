package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/pluginguard/internal/domain"
	"github.com/xela07ax/pluginguard/internal/infra"
	"github.com/xela07ax/pluginguard/internal/lifecycle"
	"github.com/xela07ax/pluginguard/internal/permission"
	"go.uber.org/zap"
)

// BarChecker — быстрая проверка закрытых плагинов (signal.Watcher).
type BarChecker interface {
	IsBarred(pluginID string) bool
}

type PluginHandler struct {
	engine  *lifecycle.Manager
	perms   *permission.Manager
	watcher BarChecker // может быть nil (single-instance режим)
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewPluginHandler(engine *lifecycle.Manager, perms *permission.Manager, watcher BarChecker, metrics *infra.Metrics, logger *zap.Logger) *PluginHandler {
	return &PluginHandler{
		engine:  engine,
		perms:   perms,
		watcher: watcher,
		metrics: metrics,
		logger:  logger.Named("plugin-handler"),
	}
}

type registerRequest struct {
	Capabilities  []domain.Capability `json:"capabilities"`
	Configuration json.RawMessage     `json:"configuration,omitempty"`
}

type capabilitiesRequest struct {
	Capabilities []domain.Capability `json:"capabilities"`
}

type violationRequest struct {
	ViolationType string          `json:"violation_type"`
	Severity      domain.Severity `json:"severity"`
	Details       string          `json:"details"`
}

type dataAccessRequest struct {
	AccessType  domain.AccessType `json:"access_type"`
	RecordCount int               `json:"record_count"`
}

type errorRequest struct {
	Message string `json:"message"`
}

// Register — POST /v1/plugins/{id}/register
func (h *PluginHandler) Register(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.engine.Register(r.Context(), pluginID, req.Capabilities, req.Configuration); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Enable — POST /v1/plugins/{id}/enable
func (h *PluginHandler) Enable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Enable(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Permissions — GET /v1/plugins/{id}/permissions: запрошенный набор и
// текущие гранты для отрисовки approval-экрана.
func (h *PluginHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	mf, ok := h.perms.ManifestFor(pluginID)
	if !ok {
		http.Error(w, "plugin not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"plugin_id": pluginID,
		"requested": mf.Requested,
		"granted":   h.perms.Granted(pluginID),
	})
}

// Grant — POST /v1/plugins/{id}/grants: пользователь разрешил подмножество.
func (h *PluginHandler) Grant(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	var req capabilitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	granted, err := h.engine.Grant(r.Context(), pluginID, req.Capabilities)
	if err != nil && len(granted) == 0 {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{"granted": granted}
	if err != nil {
		// Частичный успех: валидные выданы, невалидные репортим явно
		resp["error"] = err.Error()
	}
	writeJSON(w, resp)
}

// Deny — POST /v1/plugins/{id}/denials
func (h *PluginHandler) Deny(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	var req capabilitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.engine.Deny(r.Context(), pluginID, req.Capabilities); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disable — POST /v1/plugins/{id}/disable (ручной путь, отзывает гранты)
func (h *PluginHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Disable(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reenable — POST /v1/plugins/{id}/reenable (история не очищается)
func (h *PluginHandler) Reenable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reenable(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Access — GET /v1/plugins/{id}/access?capability=X
// Fail-closed гейт: рантайм обязан звать его перед каждым capability-действием.
// Любая ошибка трактуется как «не выдано»; отказ фиксируется ровно одним
// событием PermissionDenied.
func (h *PluginHandler) Access(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")
	cap := domain.Capability(r.URL.Query().Get("capability"))
	if cap == "" {
		http.Error(w, "capability query param is required", http.StatusBadRequest)
		return
	}

	// Самая дешевая проверка — in-memory кэш закрытых плагинов
	if h.watcher != nil && h.watcher.IsBarred(pluginID) {
		h.metrics.DeniedTotal.Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"granted": false,
			"reason":  "plugin_barred",
		})
		return
	}

	if !h.perms.Authorize(pluginID, cap) {
		h.metrics.DeniedTotal.Inc()
		h.metrics.EventsTotal.WithLabelValues(string(domain.KindPermissionDenied)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"granted": false,
			"reason":  "permission_denied",
		})
		return
	}

	writeJSON(w, map[string]interface{}{"granted": true})
}

// ReportViolation — POST /v1/plugins/{id}/violations
// Нарушение — данные, не ошибка: всегда 202, карантин оценивается синхронно.
func (h *PluginHandler) ReportViolation(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	var req violationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	h.engine.ReportViolation(r.Context(), pluginID, req.ViolationType, req.Severity, req.Details)
	w.WriteHeader(http.StatusAccepted)
}

// ReportDataAccess — POST /v1/plugins/{id}/data-access
func (h *PluginHandler) ReportDataAccess(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	var req dataAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	h.engine.ReportDataAccess(r.Context(), pluginID, req.AccessType, req.RecordCount)
	w.WriteHeader(http.StatusAccepted)
}

// RecordError — POST /v1/plugins/{id}/errors (RuntimeFault)
func (h *PluginHandler) RecordError(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")

	var req errorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.engine.RecordError(r.Context(), pluginID, req.Message); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RecordSuccess — POST /v1/plugins/{id}/success (сброс счетчика сбоев)
func (h *PluginHandler) RecordSuccess(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RecordSuccess(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Summary — GET /v1/plugins/{id}/summary
func (h *PluginHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Summary(chi.URLParam(r, "id")))
}

// Anomalies — GET /v1/plugins/{id}/anomalies («at-risk» представление)
func (h *PluginHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	anomalies := h.engine.Anomalies(chi.URLParam(r, "id"))
	if anomalies == nil {
		// Фронтенд должен получить пустой массив [], а не null
		anomalies = []domain.Anomaly{}
	}
	writeJSON(w, anomalies)
}

// State — GET /v1/plugins/{id}/state
func (h *PluginHandler) State(w http.ResponseWriter, r *http.Request) {
	st, ok := h.engine.StateOf(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "plugin not found", http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

// writeError переводит доменные ошибки в HTTP-статусы.
func (h *PluginHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownPlugin):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCapability):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("unexpected handler error",
			zap.String("trace_id", TraceIDFromContext(r.Context())),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
