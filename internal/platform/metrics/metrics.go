// Package metrics provides observability for the relay server.
// Counters feed both the Prometheus exposition and the JSON snapshot used by the agitator.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers performance metrics.
type Collector struct {
	// Sample metrics
	SamplesAccepted  int64
	SamplesHeld      int64
	SampleLatencySum int64 // nanoseconds
	SampleLatencyMax int64
	LastSampleTime   time.Time

	// Face metrics
	FrameChanges int64
	PainTicks    int64
	Deaths       int64

	// Persistence metrics
	TicksWritten     int64
	TickWriteLatSum  int64
	TickWriteLatMax  int64
	TickWriteErrors  int64
	CachePublishErrs int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	// System
	StartTime time.Time
	mu        sync.RWMutex

	registry      *prometheus.Registry
	samples       *prometheus.CounterVec
	sampleLatency prometheus.Histogram
	frames        *prometheus.CounterVec
	healthGauge   prometheus.Gauge
	tickWrites    *prometheus.CounterVec
	cacheErrors   prometheus.Counter
	wsConnections prometheus.Gauge
	wsMessages    *prometheus.CounterVec
	wsErrors      prometheus.Counter
}

// New creates a collector with its own Prometheus registry.
func New() *Collector {
	c := &Collector{
		StartTime: time.Now(),
		registry:  prometheus.NewRegistry(),

		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stface_samples_total",
			Help: "Health samples received, by outcome",
		}, []string{"outcome"}),
		sampleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stface_sample_duration_seconds",
			Help:    "Time spent applying a sample to the engine",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stface_frames_total",
			Help: "Emitted face frames, by kind",
		}, []string{"kind"}),
		healthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stface_health_percent",
			Help: "Last accepted health percent",
		}),
		tickWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stface_tick_writes_total",
			Help: "Tick rows written to storage, by result",
		}, []string{"result"}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stface_cache_publish_errors_total",
			Help: "Failed state cache publishes",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stface_ws_connections",
			Help: "Active WebSocket connections",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stface_ws_messages_total",
			Help: "WebSocket messages, by direction",
		}, []string{"direction"}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stface_ws_errors_total",
			Help: "WebSocket protocol errors",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.samples, c.sampleLatency, c.frames, c.healthGauge,
		c.tickWrites, c.cacheErrors,
		c.wsConnections, c.wsMessages, c.wsErrors,
	)
	return c
}

// Registry exposes the Prometheus registry (tests gather from it).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordSample records an accepted sample and how long the engine took.
func (c *Collector) RecordSample(latency time.Duration, healthPercent int) {
	atomic.AddInt64(&c.SamplesAccepted, 1)
	atomic.AddInt64(&c.SampleLatencySum, int64(latency))

	// Update max (non-atomic but acceptable for metrics)
	if int64(latency) > atomic.LoadInt64(&c.SampleLatencyMax) {
		atomic.StoreInt64(&c.SampleLatencyMax, int64(latency))
	}

	c.mu.Lock()
	c.LastSampleTime = time.Now()
	c.mu.Unlock()

	c.samples.WithLabelValues("accepted").Inc()
	c.sampleLatency.Observe(latency.Seconds())
	c.healthGauge.Set(float64(healthPercent))
}

// RecordHeld records a sample rejected by the confidence gate.
func (c *Collector) RecordHeld() {
	atomic.AddInt64(&c.SamplesHeld, 1)
	c.samples.WithLabelValues("held").Inc()
}

// RecordFrame records the kind of frame emitted and whether it changed.
// A death is counted on the switch into the dead frame, not per dead tick.
func (c *Collector) RecordFrame(kind string, changed bool) {
	switch kind {
	case "pain":
		atomic.AddInt64(&c.PainTicks, 1)
	case "dead":
		if changed {
			atomic.AddInt64(&c.Deaths, 1)
		}
	}
	if changed {
		atomic.AddInt64(&c.FrameChanges, 1)
	}
	c.frames.WithLabelValues(kind).Inc()
}

// RecordTickWrite records a tick write to the database.
func (c *Collector) RecordTickWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.TicksWritten, 1)
	atomic.AddInt64(&c.TickWriteLatSum, int64(latency))

	if int64(latency) > atomic.LoadInt64(&c.TickWriteLatMax) {
		atomic.StoreInt64(&c.TickWriteLatMax, int64(latency))
	}

	if err != nil {
		atomic.AddInt64(&c.TickWriteErrors, 1)
		c.tickWrites.WithLabelValues("error").Inc()
		return
	}
	c.tickWrites.WithLabelValues("ok").Inc()
}

// RecordCacheError records a failed Redis publish.
func (c *Collector) RecordCacheError() {
	atomic.AddInt64(&c.CachePublishErrs, 1)
	c.cacheErrors.Inc()
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
	c.wsConnections.Add(float64(delta))
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
		c.wsMessages.WithLabelValues("in").Inc()
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
		c.wsMessages.WithLabelValues("out").Inc()
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
	c.wsErrors.Inc()
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	accepted := atomic.LoadInt64(&c.SamplesAccepted)
	written := atomic.LoadInt64(&c.TicksWritten)

	// Calculate averages
	var sampleAvg, writeAvg float64
	if accepted > 0 {
		sampleAvg = float64(atomic.LoadInt64(&c.SampleLatencySum)) / float64(accepted) / 1e6 // ms
	}
	if written > 0 {
		writeAvg = float64(atomic.LoadInt64(&c.TickWriteLatSum)) / float64(written) / 1e6
	}

	lastSample := ""
	if !c.LastSampleTime.IsZero() {
		lastSample = c.LastSampleTime.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"samples": map[string]interface{}{
			"accepted":       accepted,
			"held":           atomic.LoadInt64(&c.SamplesHeld),
			"avg_latency_ms": sampleAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.SampleLatencyMax)) / 1e6,
			"last_sample":    lastSample,
		},

		"frames": map[string]interface{}{
			"changes":    atomic.LoadInt64(&c.FrameChanges),
			"pain_ticks": atomic.LoadInt64(&c.PainTicks),
			"deaths":     atomic.LoadInt64(&c.Deaths),
		},

		"persistence": map[string]interface{}{
			"written":          written,
			"avg_write_lat_ms": writeAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.TickWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.TickWriteErrors),
			"cache_errors":     atomic.LoadInt64(&c.CachePublishErrs),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},
	}
}

// JSONHandler returns an HTTP handler for the /metrics.json endpoint.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
