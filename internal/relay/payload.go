package relay

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/MRamiBalles/stface-relay/internal/engine"
)

// DefaultHealth is used when a payload carries no usable health value.
const DefaultHealth = 100

// DefaultConfidence is assumed when a payload carries no confidence field.
const DefaultConfidence = 1.0

var (
	healthKeys    = []string{"health_percent", "health"}
	nestedHealth  = []string{"state", "sample"}
	confidenceKey = "confidence"
)

// Sample is a decoded health reading.
type Sample struct {
	HealthPercent int                    `json:"health_percent"`
	Confidence    float64                `json:"confidence"`
	GameID        string                 `json:"game_id,omitempty"`
	TimestampMs   int64                  `json:"timestamp_ms,omitempty"`
	Source        map[string]interface{} `json:"source,omitempty"`
}

// DecodeSample reads a loosely shaped JSON payload into a Sample.
// It never fails: invalid fields fall back to their defaults.
func DecodeSample(payload map[string]interface{}) Sample {
	s := Sample{
		HealthPercent: ExtractHealthPercent(payload),
		Confidence:    ExtractConfidence(payload),
	}
	if gameID, ok := payload["game_id"].(string); ok {
		s.GameID = gameID
	}
	if ts, ok := toFloat(payload["timestamp_ms"]); ok {
		s.TimestampMs = int64(ts)
	}
	if src, ok := payload["source"].(map[string]interface{}); ok {
		s.Source = src
	}
	return s
}

// ExtractHealthPercent finds the health value in a sample payload.
// Lookup order: health_percent, health, then the same keys under "state"
// and "sample". Numeric strings are accepted, values are rounded and clamped.
func ExtractHealthPercent(payload map[string]interface{}) int {
	if h, ok := healthFrom(payload); ok {
		return h
	}
	for _, key := range nestedHealth {
		if nested, ok := payload[key].(map[string]interface{}); ok {
			if h, ok := healthFrom(nested); ok {
				return h
			}
		}
	}
	return DefaultHealth
}

func healthFrom(m map[string]interface{}) (int, bool) {
	for _, key := range healthKeys {
		raw, present := m[key]
		if !present {
			continue
		}
		if f, ok := toFloat(raw); ok {
			return engine.ClampHealth(int(math.Round(clampFloat(f, -1, 101)))), true
		}
	}
	return 0, false
}

// ExtractConfidence reads the confidence field. A missing field means full
// confidence; a field that is present but unreadable means none.
func ExtractConfidence(payload map[string]interface{}) float64 {
	raw, present := payload[confidenceKey]
	if !present || raw == nil {
		return DefaultConfidence
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0
	}
	return clampFloat(f, 0, 1)
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampFloat(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
