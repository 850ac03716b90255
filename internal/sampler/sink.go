package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/relay"
)

// Result is what the relay answered for one sample.
type Result struct {
	State relay.Snapshot
	Held  bool
}

// Sink delivers one sample to a relay.
type Sink interface {
	Send(ctx context.Context, payload map[string]interface{}) (Result, error)
}

// RelaySink submits to an in-process relay.
type RelaySink struct {
	relay *relay.Relay
}

// NewRelaySink wraps r.
func NewRelaySink(r *relay.Relay) *RelaySink {
	return &RelaySink{relay: r}
}

// Send implements Sink.
func (s *RelaySink) Send(ctx context.Context, payload map[string]interface{}) (Result, error) {
	out := s.relay.Submit(ctx, payload)
	return Result{State: out.State, Held: out.Held()}, nil
}

// HTTPSink posts samples to a remote relay's /v1/health-sample.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink targets the relay at baseURL, e.g. http://127.0.0.1:8765.
func NewHTTPSink(baseURL string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &HTTPSink{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/health-sample",
		client:   client,
	}
}

// Send implements Sink.
func (s *HTTPSink) Send(ctx context.Context, payload map[string]interface{}) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode sample: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to post sample: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		State relay.Snapshot `json:"state"`
		Held  bool           `json:"held"`
		Error string         `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode relay response (status %d): %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return Result{State: decoded.State, Held: decoded.Held}, nil
	default:
		return Result{}, fmt.Errorf("relay rejected sample: status %d: %s", resp.StatusCode, decoded.Error)
	}
}
