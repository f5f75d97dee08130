package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/alertqueue"
	"github.com/homelab-ops/remedy/pkg/models"
	"github.com/homelab-ops/remedy/pkg/pipeline"
	"github.com/homelab-ops/remedy/pkg/preserve"
	"github.com/homelab-ops/remedy/pkg/store"
)

type fakeProcessor struct {
	payloads []*models.WebhookPayload
	results  []pipeline.Result
	resumed  chan *preserve.RemediationContext
}

func (f *fakeProcessor) HandleWebhook(_ context.Context, payload *models.WebhookPayload) []pipeline.Result {
	f.payloads = append(f.payloads, payload)
	return f.results
}

func (f *fakeProcessor) ResumeFromContext(_ context.Context, rc *preserve.RemediationContext) pipeline.Result {
	if f.resumed != nil {
		f.resumed <- rc
	}
	return pipeline.Result{Outcome: models.OutcomeRemediated}
}

type fakeResumer struct {
	rc  *preserve.RemediationContext
	err error
}

func (f *fakeResumer) Resume(_ context.Context, _ string) (*preserve.RemediationContext, error) {
	return f.rc, f.err
}

type fakeDataStore struct {
	stats     *store.Statistics
	analytics *store.Analytics
	patterns  []models.RemediationPattern
	pattern   *models.RemediationPattern
	windows   []models.MaintenanceWindow
	started   []string
	ended     []string
}

func (f *fakeDataStore) GetStatistics(_ context.Context, days int) (*store.Statistics, error) {
	if f.stats == nil {
		return &store.Statistics{Days: days}, nil
	}
	return f.stats, nil
}

func (f *fakeDataStore) GetAnalytics(_ context.Context) (*store.Analytics, error) {
	return f.analytics, nil
}

func (f *fakeDataStore) ListPatterns(_ context.Context) ([]models.RemediationPattern, error) {
	return f.patterns, nil
}

func (f *fakeDataStore) GetPattern(_ context.Context, id int64) (*models.RemediationPattern, error) {
	if f.pattern != nil && f.pattern.ID == id {
		return f.pattern, nil
	}
	return nil, nil
}

func (f *fakeDataStore) StartMaintenanceWindow(_ context.Context, host, reason, createdBy string) (*models.MaintenanceWindow, error) {
	f.started = append(f.started, host)
	return &models.MaintenanceWindow{ID: 1, Host: host, Reason: reason, CreatedBy: createdBy, IsActive: true}, nil
}

func (f *fakeDataStore) EndMaintenanceWindow(_ context.Context, host string) (*models.MaintenanceWindow, error) {
	f.ended = append(f.ended, host)
	if len(f.windows) == 0 {
		return nil, nil
	}
	return &f.windows[0], nil
}

func (f *fakeDataStore) ListMaintenanceWindows(_ context.Context, _ int) ([]models.MaintenanceWindow, error) {
	return f.windows, nil
}

type fakeRunbookStore struct {
	books  map[string]string
	reload int
}

func (f *fakeRunbookStore) ForAlert(alert string) string { return f.books[alert] }
func (f *fakeRunbookStore) List() []string {
	names := make([]string, 0, len(f.books))
	for name := range f.books {
		names = append(names, name)
	}
	return names
}
func (f *fakeRunbookStore) Reload() (int, error) { return f.reload, nil }

type testServer struct {
	processor *fakeProcessor
	resumer   *fakeResumer
	data      *fakeDataStore
	runbooks  *fakeRunbookStore
	queue     *alertqueue.Queue
	router    http.Handler
}

func newTestServer() *testServer {
	ts := &testServer{
		processor: &fakeProcessor{results: []pipeline.Result{{Outcome: models.OutcomeRemediated}}},
		resumer:   &fakeResumer{rc: &preserve.RemediationContext{AlertName: "ContainerDown"}},
		data:      &fakeDataStore{analytics: &store.Analytics{PatternCount: 3}},
		runbooks:  &fakeRunbookStore{books: map[string]string{"DiskSpaceLow": "# Disk runbook"}},
		queue:     alertqueue.NewQueue(10),
	}
	srv := NewServer(ts.processor, ts.resumer, ts.data, ts.runbooks, ts.queue, nil, nil, nil,
		Config{WebhookUser: "am", WebhookPassword: "secret", Version: "test"})
	ts.router = srv.Router()
	return ts
}

func (ts *testServer) do(method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.SetBasicAuth("am", "secret")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthHealthy(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodGet, "/health", nil, false)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["database_connected"])
	assert.Equal(t, false, body["maintenance_mode"])
}

func TestHealthDegradedWithQueuedAttempts(t *testing.T) {
	ts := newTestServer()
	ts.queue.Enqueue(&models.RemediationAttempt{AlertName: "X"})

	rec := ts.do(http.MethodGet, "/health", nil, false)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body, "queue_stats")
}

func TestHealthReportsMaintenanceMode(t *testing.T) {
	ts := newTestServer()
	ts.data.windows = []models.MaintenanceWindow{{ID: 1, IsActive: true}}

	body := decode(t, ts.do(http.MethodGet, "/health", nil, false))
	assert.Equal(t, true, body["maintenance_mode"])
}

func TestWebhookRequiresAuth(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodPost, "/webhook/alertmanager", models.WebhookPayload{}, false)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Empty(t, ts.processor.payloads)
}

func TestWebhookProcessesPayload(t *testing.T) {
	ts := newTestServer()
	payload := models.WebhookPayload{
		Status: "firing",
		Alerts: []models.WebhookAlert{{
			Status:      "firing",
			Fingerprint: "fp-1",
			Labels:      map[string]string{"alertname": "ContainerDown", "instance": "nas:9100"},
		}},
	}

	rec := ts.do(http.MethodPost, "/webhook/alertmanager", payload, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.processor.payloads, 1)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["alerts"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "remediated", results[0].(map[string]any)["outcome"])
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	ts := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", bytes.NewBufferString("{not json"))
	req.SetBasicAuth("am", "secret")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeHandoff(t *testing.T) {
	ts := newTestServer()
	ts.processor.resumed = make(chan *preserve.RemediationContext, 1)
	ts.resumer.rc.PendingCommands = []string{"docker restart remedy-db"}

	rec := ts.do(http.MethodPost, "/resume", map[string]string{"handoff_id": "abc"}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "resumed", body["status"])
	assert.Equal(t, "ContainerDown", body["alert_name"])

	// The interrupted remediation continues off-request.
	select {
	case rc := <-ts.processor.resumed:
		assert.Equal(t, []string{"docker restart remedy-db"}, rc.PendingCommands)
	case <-time.After(2 * time.Second):
		t.Fatal("resumed context never reached the pipeline")
	}
}

func TestResumeHandoffNotFound(t *testing.T) {
	ts := newTestServer()
	ts.resumer.rc = nil
	ts.resumer.err = fmt.Errorf("%w: abc", preserve.ErrHandoffNotFound)

	rec := ts.do(http.MethodPost, "/resume", map[string]string{"handoff_id": "abc"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeHandoffTerminalConflict(t *testing.T) {
	ts := newTestServer()
	ts.resumer.rc = nil
	ts.resumer.err = errors.New("handoff abc already completed")

	rec := ts.do(http.MethodPost, "/resume", map[string]string{"handoff_id": "abc"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMaintenanceLifecycle(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/maintenance/start",
		map[string]string{"host": "nas", "reason": "disk swap"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"nas"}, ts.data.started)

	ts.data.windows = []models.MaintenanceWindow{{ID: 1, Host: "nas", IsActive: true}}
	rec = ts.do(http.MethodGet, "/maintenance/status", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["active"], 1)

	rec = ts.do(http.MethodPost, "/maintenance/end", map[string]string{"host": "nas"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"nas"}, ts.data.ended)
}

func TestMaintenanceStartRequiresAuth(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodPost, "/maintenance/start", map[string]string{"host": "nas"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPatterns(t *testing.T) {
	ts := newTestServer()
	ts.data.patterns = []models.RemediationPattern{{ID: 1, AlertName: "ContainerDown"}}
	ts.data.pattern = &ts.data.patterns[0]

	body := decode(t, ts.do(http.MethodGet, "/patterns", nil, false))
	assert.Equal(t, float64(1), body["count"])

	rec := ts.do(http.MethodGet, "/patterns/1", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/patterns/99", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/patterns/abc", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsValidatesDays(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/statistics?days=30", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(30), body["days"])

	rec = ts.do(http.MethodGet, "/statistics?days=0", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/statistics?days=nope", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunbookEndpoints(t *testing.T) {
	ts := newTestServer()

	body := decode(t, ts.do(http.MethodGet, "/runbooks", nil, false))
	assert.Len(t, body["runbooks"], 1)

	rec := ts.do(http.MethodGet, "/runbooks/DiskSpaceLow", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["runbook"], "Disk runbook")

	rec = ts.do(http.MethodGet, "/runbooks/Missing", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.runbooks.reload = 4
	rec = ts.do(http.MethodPost, "/runbooks/reload", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["loaded"])
}

func TestExternalServices(t *testing.T) {
	ts := &testServer{
		processor: &fakeProcessor{},
		data:      &fakeDataStore{},
		queue:     alertqueue.NewQueue(10),
	}
	external := map[string]HealthCheck{
		"prometheus": func(context.Context) error { return nil },
		"loki":       func(context.Context) error { return errors.New("connection refused") },
	}
	srv := NewServer(ts.processor, nil, ts.data, nil, ts.queue, nil, nil, external,
		Config{WebhookUser: "am", WebhookPassword: "secret", Version: "test"})
	ts.router = srv.Router()

	rec := ts.do(http.MethodGet, "/external-services", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	services := decode(t, rec)["services"].(map[string]any)
	assert.Equal(t, "ok", services["prometheus"].(map[string]any)["status"])
	assert.Equal(t, "unreachable", services["loki"].(map[string]any)["status"])
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer()
	body := decode(t, ts.do(http.MethodGet, "/version", nil, false))
	assert.Equal(t, "test", body["version"])
}
