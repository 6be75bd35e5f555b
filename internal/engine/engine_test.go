package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(config.Load(), logger.New("engine-test", "test"))
}

func TestHandleHealth(t *testing.T) {
	e := newTestEngine(t)

	rec := httptest.NewRecorder()
	e.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string           `json:"status"`
		Service string           `json:"service"`
		Checks  map[string]string `json:"checks"`
		Metrics map[string]int64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "vizpilot-mcp", body.Service)
	assert.Contains(t, body.Metrics, "request_count")
}

func TestHandleHealthUnhealthy(t *testing.T) {
	e := newTestEngine(t)
	e.health.RunCheck("postgres", func() error { return assert.AnError })

	rec := httptest.NewRecorder()
	e.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInstrumentCounters(t *testing.T) {
	e := newTestEngine(t)

	ok := e.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	failing := e.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 3; i++ {
		ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	}
	failing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))

	m := e.Metrics()
	assert.Equal(t, int64(4), m["request_count"])
	assert.Equal(t, int64(1), m["error_count"])
}
