// Package sampler feeds health samples to a relay at a fixed rate.
// It stands in for a pixel sampler when testing overlays or load.
package sampler

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
)

// DefaultPeriod paces samples at 10 per second, the rate a capture loop runs at.
const DefaultPeriod = 100 * time.Millisecond

// Ticker replays a list of payloads into a Sink, one per period.
type Ticker struct {
	sink     Sink
	samples  []map[string]interface{}
	period   time.Duration
	loop     bool
	logger   *logger.Logger
	onResult func(Result)

	sent     atomic.Int64
	failed   atomic.Int64
	stopChan chan struct{}
	stopOnce sync.Once
}

// Option configures a Ticker.
type Option func(*Ticker)

// WithPeriod overrides DefaultPeriod.
func WithPeriod(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.period = d
		}
	}
}

// WithLoop restarts from the first sample after the last one.
func WithLoop(loop bool) Option {
	return func(t *Ticker) { t.loop = loop }
}

// WithResultHandler receives every successful send.
func WithResultHandler(fn func(Result)) Option {
	return func(t *Ticker) { t.onResult = fn }
}

// NewTicker creates a feeder over samples.
func NewTicker(sink Sink, samples []map[string]interface{}, log *logger.Logger, opts ...Option) *Ticker {
	t := &Ticker{
		sink:     sink,
		samples:  samples,
		period:   DefaultPeriod,
		logger:   log,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start sends samples until they run out (unless looping), ctx is
// cancelled or Stop is called. It blocks; call in a goroutine when needed.
func (t *Ticker) Start(ctx context.Context) {
	if len(t.samples) == 0 {
		return
	}
	t.logger.Info("Sample feeder started at " + t.period.String() + " per sample")

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Sample feeder stopped by context")
			return
		case <-t.stopChan:
			t.logger.Info("Sample feeder stopped manually")
			return
		case <-ticker.C:
			t.tick(ctx, t.samples[next])
			next++
			if next == len(t.samples) {
				if !t.loop {
					t.logger.Info("Sample feeder finished after " + strconv.FormatInt(t.sent.Load(), 10) + " samples")
					return
				}
				next = 0
			}
		}
	}
}

// Stop gracefully stops the feeder. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// Sent returns how many samples were delivered.
func (t *Ticker) Sent() int64 {
	return t.sent.Load()
}

// Failed returns how many sends returned an error.
func (t *Ticker) Failed() int64 {
	return t.failed.Load()
}

func (t *Ticker) tick(ctx context.Context, payload map[string]interface{}) {
	res, err := t.sink.Send(ctx, payload)
	if err != nil {
		t.failed.Add(1)
		t.logger.Warn("Sample send failed: " + err.Error())
		return
	}
	t.sent.Add(1)
	if t.onResult != nil {
		t.onResult(res)
	}
}
