package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-global, so all assertions share one test.
func TestMetricsExposition(t *testing.T) {
	metrics.InitRegistry()
	require.True(t, metrics.IsEnabled())

	wire := NewPVWireMetrics()
	wire.RecordRequestStart("GET")
	wire.RecordRequest("GET", "OK", 2*time.Millisecond)
	wire.RecordRequestEnd("GET")
	wire.RecordConnectionAccepted()

	startup := NewStartupMetrics()
	startup.RecordStage("LoadDatabase", 10*time.Millisecond, nil)
	startup.RecordStage("InitIOC", time.Millisecond, errors.New("bind"))
	startup.SetRingMode("VMX", "env")

	mirrors := NewMirrorMetrics()
	mirrors.RecordMirrorUpdate("summate", nil)
	mirrors.RecordAutosave(nil)

	srv := metrics.NewServer(metrics.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`atipioc_pvwire_requests_total{op="GET",status="OK"} 1`,
		`atipioc_pvwire_connections_accepted_total 1`,
		`atipioc_startup_stage_failures_total{stage="InitIOC"} 1`,
		`atipioc_ring_mode_info{mode="VMX",source="env"} 1`,
		`atipioc_mirror_updates_total{status="success",type="summate"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}

func TestHealthz(t *testing.T) {
	ready := false
	srv := metrics.NewServer(metrics.ServerConfig{Ready: func() bool { return ready }})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
