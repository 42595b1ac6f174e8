package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pluginguard/internal/anomaly"
	"github.com/xela07ax/pluginguard/internal/audit"
	"github.com/xela07ax/pluginguard/internal/domain"
	"github.com/xela07ax/pluginguard/internal/infra"
	"github.com/xela07ax/pluginguard/internal/lifecycle"
	"github.com/xela07ax/pluginguard/internal/permission"
	"github.com/xela07ax/pluginguard/internal/policy"
	"github.com/xela07ax/pluginguard/internal/risk"
	"go.uber.org/zap"
)

type barredStub struct{ ids map[string]bool }

func (b barredStub) IsBarred(pluginID string) bool { return b.ids[pluginID] }

func newTestHandler(t *testing.T, watcher BarChecker) (*PluginHandler, *lifecycle.Manager, *permission.Manager) {
	t.Helper()
	nop := zap.NewNop()

	log := audit.NewEventLog(100, nil, nop)
	perms := permission.NewManager(domain.NewCatalog(), log, nop)
	detector := anomaly.NewDetector(anomaly.DefaultConfig(), nop)
	scorer := risk.NewScorer(log)
	quarantine := policy.NewQuarantine(scorer, detector, log, policy.DefaultThresholds())
	engine := lifecycle.NewManager(perms, quarantine, detector, scorer, log, nil, nil, nil, 3, nop)

	return NewPluginHandler(engine, perms, watcher, infra.NewMetrics(nil), nop), engine, perms
}

func doRequest(h http.HandlerFunc, method, target, pluginID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", pluginID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestPluginHandler_RegisterAndConflict(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)

	body := map[string]interface{}{"capabilities": []string{"network"}}
	rec := doRequest(h.Register, http.MethodPost, "/v1/plugins/p1/register", "p1", body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(h.Register, http.MethodPost, "/v1/plugins/p1/register", "p1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPluginHandler_RegisterUnknownCapability(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)

	body := map[string]interface{}{"capabilities": []string{"telepathy"}}
	rec := doRequest(h.Register, http.MethodPost, "/v1/plugins/p1/register", "p1", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPluginHandler_EnableInvalidTransition(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)

	rec := doRequest(h.Enable, http.MethodPost, "/v1/plugins/ghost/enable", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginHandler_GrantPartialSuccess(t *testing.T) {
	h, engine, _ := newTestHandler(t, nil)
	ctx := context.Background()
	require.NoError(t, engine.Register(ctx, "p1", []domain.Capability{"network"}, nil))
	require.NoError(t, engine.Enable(ctx, "p1"))

	body := map[string]interface{}{"capabilities": []string{"network", "storage"}}
	rec := doRequest(h.Grant, http.MethodPost, "/v1/plugins/p1/grants", "p1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Granted []domain.Capability `json:"granted"`
		Error   string              `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []domain.Capability{"network"}, resp.Granted)
	assert.Contains(t, resp.Error, "storage")
}

func TestPluginHandler_AccessGate(t *testing.T) {
	h, engine, _ := newTestHandler(t, barredStub{ids: map[string]bool{"blocked": true}})
	ctx := context.Background()
	require.NoError(t, engine.Register(ctx, "p1", []domain.Capability{"network", "location"}, nil))
	require.NoError(t, engine.Enable(ctx, "p1"))
	_, err := engine.Grant(ctx, "p1", []domain.Capability{"network"})
	require.NoError(t, err)

	// Выданная capability пропускается
	rec := doRequest(h.Access, http.MethodGet, "/v1/plugins/p1/access?capability=network", "p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"granted":true`)

	// Запрошенная, но не выданная — fail-closed отказ
	rec = doRequest(h.Access, http.MethodGet, "/v1/plugins/p1/access?capability=location", "p1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission_denied")

	// Закрытый плагин режется еще до проверки грантов
	rec = doRequest(h.Access, http.MethodGet, "/v1/plugins/blocked/access?capability=network", "blocked", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "plugin_barred")

	// Без capability — bad request
	rec = doRequest(h.Access, http.MethodGet, "/v1/plugins/p1/access", "p1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPluginHandler_ViolationDrivesQuarantine(t *testing.T) {
	h, engine, perms := newTestHandler(t, nil)
	ctx := context.Background()
	require.NoError(t, engine.Register(ctx, "p1", []domain.Capability{"network"}, nil))
	require.NoError(t, engine.Enable(ctx, "p1"))
	_, err := engine.Grant(ctx, "p1", []domain.Capability{"network"})
	require.NoError(t, err)

	body := map[string]interface{}{
		"violation_type": "DATA_EXFILTRATION",
		"severity":       "CRITICAL",
		"details":        "bulk upload",
	}
	rec := doRequest(h.ReportViolation, http.MethodPost, "/v1/plugins/p1/violations", "p1", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	st, ok := engine.StateOf("p1")
	require.True(t, ok)
	assert.Equal(t, domain.StateDisabled, st.State)
	assert.False(t, perms.IsGranted("p1", "network"))
}

func TestPluginHandler_SummaryAndState(t *testing.T) {
	h, engine, _ := newTestHandler(t, nil)
	ctx := context.Background()
	require.NoError(t, engine.Register(ctx, "p1", []domain.Capability{"network"}, nil))

	rec := doRequest(h.State, http.MethodGet, "/v1/plugins/p1/state", "p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.PluginSecurityState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.StateRegistered, st.State)

	rec = doRequest(h.State, http.MethodGet, "/v1/plugins/ghost/state", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h.Summary, http.MethodGet, "/v1/plugins/p1/summary", "p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum domain.SecuritySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "p1", sum.PluginID)
}

func TestPluginHandler_AnomaliesEmptyArray(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)

	rec := doRequest(h.Anomalies, http.MethodGet, "/v1/plugins/p1/anomalies", "p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
