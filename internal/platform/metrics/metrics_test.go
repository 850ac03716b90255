package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCounts(t *testing.T) {
	c := New()
	c.RecordSample(2*time.Millisecond, 80)
	c.RecordSample(4*time.Millisecond, 60)
	c.RecordHeld()
	c.RecordFrame("pain", true)
	c.RecordFrame("dead", true)
	c.RecordFrame("dead", false)
	c.RecordFrame("dead", false)
	c.RecordTickWrite(time.Millisecond, errors.New("disk full"))

	snap := c.Snapshot()
	samples := snap["samples"].(map[string]interface{})
	assert.Equal(t, int64(2), samples["accepted"])
	assert.Equal(t, int64(1), samples["held"])
	assert.InDelta(t, 3.0, samples["avg_latency_ms"], 0.001)
	assert.InDelta(t, 4.0, samples["max_latency_ms"], 0.001)

	frames := snap["frames"].(map[string]interface{})
	assert.Equal(t, int64(2), frames["changes"])
	assert.Equal(t, int64(1), frames["pain_ticks"])
	// three dead ticks, one death
	assert.Equal(t, int64(1), frames["deaths"])

	persistence := snap["persistence"].(map[string]interface{})
	assert.Equal(t, int64(1), persistence["errors"])
}

func TestPrometheusCounters(t *testing.T) {
	c := New()
	c.RecordSample(time.Millisecond, 42)
	c.RecordHeld()
	c.RecordHeld()
	c.RecordWSMessage(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.samples.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.samples.WithLabelValues("held")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.healthGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.wsMessages.WithLabelValues("in")))
}

func TestPrometheusHandlerExposition(t *testing.T) {
	c := New()
	c.RecordSample(time.Millisecond, 100)

	rec := httptest.NewRecorder()
	c.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `stface_samples_total{outcome="accepted"} 1`))
	assert.True(t, strings.Contains(body, "stface_health_percent 100"))
}

func TestJSONHandler(t *testing.T) {
	c := New()
	rec := httptest.NewRecorder()
	c.JSONHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics.json", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"websocket"`)
}
