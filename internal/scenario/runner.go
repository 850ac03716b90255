package scenario

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/MRamiBalles/stface-relay/internal/relay"
)

// StepResult captures the outcome of one replayed sample.
type StepResult struct {
	Index    int
	Input    string
	Held     bool
	Got      relay.Snapshot
	Checked  bool
	Failures []string
}

// Passed reports whether every expectation of the step held.
func (r StepResult) Passed() bool {
	return len(r.Failures) == 0
}

// Report is the result of replaying one script.
type Report struct {
	Name    string
	Results []StepResult
}

// Passed reports whether every step passed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}
	return true
}

// Failed returns the failing steps.
func (r Report) Failed() []StepResult {
	var failed []StepResult
	for _, res := range r.Results {
		if !res.Passed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Run replays the script through a fresh relay.
func Run(ctx context.Context, s *Script, opts ...relay.Option) Report {
	if s.Threshold != nil {
		opts = append(opts, relay.WithConfidenceThreshold(*s.Threshold))
	}
	r := relay.New("scenario:"+s.Name, opts...)

	report := Report{Name: s.Name}
	index := 0
	for _, step := range s.Samples {
		repeat := max(step.Repeat, 1)
		for i := 0; i < repeat; i++ {
			index++
			payload := step.payload()
			out := r.Submit(ctx, payload)

			res := StepResult{
				Index: index,
				Input: describe(payload),
				Held:  out.Held(),
				Got:   out.State,
			}
			// Only the last repetition of a step is checked.
			if step.Expect != nil && i == repeat-1 {
				res.Checked = true
				res.Failures = step.Expect.check(out)
			}
			report.Results = append(report.Results, res)
		}
	}
	return report
}

func (s Step) payload() map[string]interface{} {
	payload := make(map[string]interface{}, len(s.Payload)+2)
	for k, v := range s.Payload {
		payload[k] = v
	}
	if s.Health != nil {
		payload["health_percent"] = *s.Health
	}
	if s.Confidence != nil {
		payload["confidence"] = *s.Confidence
	}
	return payload
}

func (e *Expect) check(out relay.Outcome) []string {
	var failures []string
	got := out.State
	if e.Frame != "" && got.Frame != e.Frame {
		failures = append(failures, fmt.Sprintf("frame: want %s, got %s", e.Frame, got.Frame))
	}
	if e.Look != "" && got.Look != e.Look {
		failures = append(failures, fmt.Sprintf("look: want %s, got %s", e.Look, got.Look))
	}
	if e.Pain != nil && got.IsPain != *e.Pain {
		failures = append(failures, fmt.Sprintf("pain: want %t, got %t", *e.Pain, got.IsPain))
	}
	if e.Bucket != nil && got.HealthBucket != *e.Bucket {
		failures = append(failures, fmt.Sprintf("bucket: want %d, got %d", *e.Bucket, got.HealthBucket))
	}
	if e.Health != nil && got.HealthPercent != *e.Health {
		failures = append(failures, fmt.Sprintf("health: want %d, got %d", *e.Health, got.HealthPercent))
	}
	if e.Held != nil && out.Held() != *e.Held {
		failures = append(failures, fmt.Sprintf("held: want %t, got %t", *e.Held, out.Held()))
	}
	return failures
}

func describe(payload map[string]interface{}) string {
	if h, ok := payload["health_percent"]; ok && len(payload) <= 2 {
		if c, ok := payload["confidence"]; ok {
			return fmt.Sprintf("health=%v confidence=%v", h, c)
		}
		return fmt.Sprintf("health=%v", h)
	}
	return fmt.Sprintf("%v", payload)
}

// Print writes a human-readable summary of the report.
func (r Report) Print(w io.Writer, verbose bool) {
	status := "✅ PASS"
	if !r.Passed() {
		status = "❌ FAIL"
	}
	fmt.Fprintf(w, "%s  %s (%d samples)\n", status, r.Name, len(r.Results))

	for _, res := range r.Results {
		if !verbose && res.Passed() {
			continue
		}
		fmt.Fprintf(w, "   #%-3d %-32s -> %-8s look=%-6s pain=%-5t",
			res.Index, res.Input, res.Got.Frame, res.Got.Look, res.Got.IsPain)
		if res.Held {
			fmt.Fprint(w, " (held)")
		}
		fmt.Fprintln(w)
		for _, f := range res.Failures {
			fmt.Fprintln(w, "        "+strings.TrimSpace(f))
		}
	}
}

// Payloads expands the script into the raw sample payloads it submits,
// repeats included. Feeders use it to pace a script against a live relay.
func (s *Script) Payloads() []map[string]interface{} {
	var out []map[string]interface{}
	for _, step := range s.Samples {
		for i := 0; i < max(step.Repeat, 1); i++ {
			out = append(out, step.payload())
		}
	}
	return out
}
