package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.IncProbe("local", "healthy")
	m.IncDetect("local")
	m.IncRequest("/api/health", "GET", "ok")
	m.ObserveRequest("/api/health", time.Second)
	m.IncDocument("imported")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IncProbe("local", "unhealthy")
	m.IncProbe("origin", "healthy")
	m.IncDetect("origin")
	m.IncRequest("/api/config", "GET", "ok")
	m.ObserveRequest("/api/config", 120*time.Millisecond)
	m.IncDocument("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, `verbactl_detect_probe_total{candidate="origin",outcome="healthy"} 1`)
	assert.Contains(t, out, `verbactl_detect_resolutions_total{outcome="origin"} 1`)
	assert.Contains(t, out, `verbactl_api_requests_total{endpoint="/api/config",method="GET",outcome="ok"} 1`)
	assert.Contains(t, out, `verbactl_import_documents_total{status="failed"} 1`)
}

func TestEmptyLabelsNormalizeToUnknown(t *testing.T) {
	m := New()
	m.IncProbe("local", "")
	m.IncDocument("")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `verbactl_detect_probe_total{candidate="local",outcome="unknown"} 1`)
	assert.Contains(t, string(body), `verbactl_import_documents_total{status="unknown"} 1`)
}
