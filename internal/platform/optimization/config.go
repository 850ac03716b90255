// Package optimization provides concurrency tuning presets for the relay.
// Buffer sizes and pool sizes are picked by name from configuration.
package optimization

import (
	"runtime"
	"strings"
)

// Config holds tuned parameters for the hub, tick log and storage pools.
type Config struct {
	// Channel buffer sizes
	BroadcastChannelBuffer int
	ClientSendBuffer       int

	// In-memory tick log retention
	TickLogCapacity int

	// Connection pools
	DBMaxOpenConns int
	DBMaxIdleConns int
	RedisPoolSize  int

	// Rate limiting
	MaxSamplesPerSecond int
	MaxClients          int
}

// DefaultConfig returns sensible defaults for a single streaming session.
func DefaultConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		BroadcastChannelBuffer: 256,
		ClientSendBuffer:       64,

		TickLogCapacity: 10000,

		// SQLite serializes writers anyway, keep the pool small
		DBMaxOpenConns: 4,
		DBMaxIdleConns: 2,

		RedisPoolSize: numCPU * 2,

		MaxSamplesPerSecond: 60,
		MaxClients:          64,
	}
}

// StressTestConfig returns aggressive settings for the agitator.
func StressTestConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		BroadcastChannelBuffer: 1024,
		ClientSendBuffer:       256,

		TickLogCapacity: 100000,

		DBMaxOpenConns: 8,
		DBMaxIdleConns: 4,
		RedisPoolSize:  numCPU * 4,

		MaxSamplesPerSecond: 500,
		MaxClients:          500,
	}
}

// LowResourceConfig returns minimal settings for development.
func LowResourceConfig() *Config {
	return &Config{
		BroadcastChannelBuffer: 16,
		ClientSendBuffer:       8,

		TickLogCapacity: 1000,

		DBMaxOpenConns: 1,
		DBMaxIdleConns: 1,
		RedisPoolSize:  2,

		MaxSamplesPerSecond: 30,
		MaxClients:          8,
	}
}

// ByName returns the preset with the given name, falling back to DefaultConfig.
func ByName(name string) *Config {
	switch strings.ToLower(name) {
	case "stress":
		return StressTestConfig()
	case "low", "dev":
		return LowResourceConfig()
	default:
		return DefaultConfig()
	}
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseBroadcastBuffer bool
	IncreaseDBConnections   bool
	IncreaseTickLog         bool
	Notes                   []string
}

// Analyze examines a metrics snapshot (as served by /metrics.json) and
// returns tuning recommendations.
func Analyze(metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if samples, ok := metrics["samples"].(map[string]interface{}); ok {
		if maxLat, ok := number(samples["max_latency_ms"]); ok && maxLat > 10 {
			rec.IncreaseTickLog = true
			rec.Notes = append(rec.Notes, "Sample latency exceeds 10ms - check observer fan-out")
		}
	}

	if persistence, ok := metrics["persistence"].(map[string]interface{}); ok {
		if maxLat, ok := number(persistence["max_write_lat_ms"]); ok && maxLat > 50 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Tick write latency exceeds 50ms - increase DB connections")
		}
		if errs, ok := number(persistence["errors"]); ok && errs > 0 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Tick write errors detected - check DB connection pool")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]interface{}); ok {
		if errs, ok := number(ws["errors"]); ok && errs > 0 {
			rec.IncreaseBroadcastBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
	}

	return rec
}

// ApplyRecommendations modifies config based on recommendations.
func ApplyRecommendations(config *Config, rec *Recommendations) *Config {
	if rec.IncreaseBroadcastBuffer {
		config.BroadcastChannelBuffer *= 2
		config.ClientSendBuffer *= 2
	}
	if rec.IncreaseDBConnections {
		config.DBMaxOpenConns = int(float64(config.DBMaxOpenConns) * 1.5)
		config.DBMaxIdleConns = int(float64(config.DBMaxIdleConns) * 1.5)
	}
	if rec.IncreaseTickLog {
		config.TickLogCapacity *= 2
	}
	return config
}

// number accepts both native ints and JSON-decoded float64 values.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
