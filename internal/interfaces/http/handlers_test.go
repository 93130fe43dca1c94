package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oppscan/internal/models"
	"github.com/sawpanic/oppscan/internal/session"
)

type fakeSessions struct {
	scanID  string
	status  *session.StatusView
	results *models.ScanSnapshot
	err     error
}

func (f *fakeSessions) Initiate(context.Context, string, models.ScanParams) (string, error) {
	return f.scanID, f.err
}

func (f *fakeSessions) Status(context.Context, string, string) (*session.StatusView, error) {
	return f.status, f.err
}

func (f *fakeSessions) Results(context.Context, string, string) (*models.ScanSnapshot, error) {
	return f.results, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakeStats struct{ active float64 }

func (f *fakeStats) ActiveScanCount() float64 { return f.active }

func newRouter(sessions SessionManager, pinger Pinger) *mux.Router {
	h := NewHandlers(sessions, pinger, &fakeStats{active: 1})
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/v1/scans", h.Initiate).Methods("POST")
	r.HandleFunc("/v1/scans/{id}/status", h.Status).Methods("GET")
	r.HandleFunc("/v1/scans/{id}/results", h.Results).Methods("GET")
	return r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestInitiateReturnsScanID(t *testing.T) {
	router := newRouter(&fakeSessions{scanID: "abc-123"}, &fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/scans",
		strings.NewReader(`{"strategies":["momentum"],"tier":"pro"}`))
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "abc-123", decode(t, rec)["scan_id"])
}

func TestInitiateWithoutUserHeader(t *testing.T) {
	router := newRouter(&fakeSessions{scanID: "abc-123"}, &fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_user", decode(t, rec)["error"])
}

func TestInitiateMalformedBody(t *testing.T) {
	router := newRouter(&fakeSessions{scanID: "abc-123"}, &fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", strings.NewReader("{nope"))
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiateNoEntitledStrategies(t *testing.T) {
	router := newRouter(&fakeSessions{err: session.ErrNoStrategies}, &fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStatusHappyPath(t *testing.T) {
	router := newRouter(&fakeSessions{status: &session.StatusView{
		Status:              models.StatusScanning,
		StrategiesCompleted: 2,
		StrategiesTotal:     5,
		Progress:            0.4,
	}}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/scans/abc-123/status", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "scanning", body["status"])
	assert.Equal(t, float64(2), body["strategies_completed"])
	assert.Equal(t, float64(5), body["strategies_total"])
}

func TestStatusNotFound(t *testing.T) {
	router := newRouter(&fakeSessions{err: session.ErrNotFound}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/scans/zzz/status", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsStillRunningIsAccepted(t *testing.T) {
	router := newRouter(&fakeSessions{
		results: &models.ScanSnapshot{Partial: true},
		err:     session.ErrStillRunning,
	}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/scans/abc/results", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Not-ready is distinct from not-found.
	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "scanning", body["status"])
	assert.Equal(t, float64(1000), body["retry_after_ms"])
}

func TestResultsTerminalPayload(t *testing.T) {
	finished := time.Now().UTC()
	router := newRouter(&fakeSessions{results: &models.ScanSnapshot{
		ScanID:              "abc",
		Status:              models.StatusPartial,
		StrategiesTotal:     3,
		StrategiesCompleted: 3,
		Opportunities: []models.Opportunity{
			{Strategy: "momentum", Symbol: "BTC-USD", Action: "buy", Signal: 0.9, Confidence: 0.8},
		},
		FinishedAt: &finished,
	}}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/scans/abc/results", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "partial", body["status"])
	assert.Len(t, body["opportunities"], 1)
}

func TestHealthReportsActiveScans(t *testing.T) {
	router := newRouter(&fakeSessions{}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["active_scans"])
}

func TestHealthDegradedWhenStoreDown(t *testing.T) {
	router := newRouter(&fakeSessions{}, &fakePinger{err: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", decode(t, rec)["store"])
}
