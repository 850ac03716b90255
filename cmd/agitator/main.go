// Package main - agitator
// Load generator for the face relay: many samplers pushing HEALTH_SAMPLE
// messages over WebSocket at once, followed by a tuning report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/stface-relay/internal/network"
	"github.com/MRamiBalles/stface-relay/internal/platform/optimization"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// Config for the agitator
type Config struct {
	ServerURL      string
	NumClients     int
	SampleInterval time.Duration
	TestDuration   time.Duration
	Profile        string
	OutputFile     string
}

// Stats tracks performance metrics
type Stats struct {
	MessagesSent     int64
	MessagesReceived int64
	Acks             int64
	Held             int64
	Errors           int64
	Latencies        []time.Duration
	mu               sync.Mutex
}

func main() {
	var config Config

	rootCmd := &cobra.Command{
		Use:   "agitator",
		Short: "Stress the face relay with concurrent WebSocket samplers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(config)
		},
		SilenceUsage: true,
	}
	f := rootCmd.Flags()
	f.StringVar(&config.ServerURL, "url", "ws://127.0.0.1:8765/ws", "WebSocket endpoint of the relay")
	f.IntVar(&config.NumClients, "clients", 50, "number of concurrent samplers")
	f.DurationVar(&config.SampleInterval, "interval", 100*time.Millisecond, "sample interval per client")
	f.DurationVar(&config.TestDuration, "duration", 60*time.Second, "test duration")
	f.StringVar(&config.Profile, "profile", "default", "tuning profile the relay runs with (default, stress, low)")
	f.StringVar(&config.OutputFile, "out", "stress_test_results.json", "where to write the JSON results")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(config Config) error {
	if config.NumClients <= 0 || config.SampleInterval <= 0 {
		return fmt.Errorf("clients and interval must be positive")
	}

	fmt.Println(titleStyle.Render("AGITATOR - face relay stress test"))
	fmt.Printf("Server:   %s\n", config.ServerURL)
	fmt.Printf("Clients:  %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.SampleInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stats := runStressTest(ctx, config)
	printResults(stats, config)
	return nil
}

func runStressTest(ctx context.Context, config Config) *Stats {
	stats := &Stats{
		Latencies: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup
	fmt.Println("\nStarting clients...")

	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("Progress: sent=%d acks=%d recv=%d errors=%d\n",
					atomic.LoadInt64(&stats.MessagesSent),
					atomic.LoadInt64(&stats.Acks),
					atomic.LoadInt64(&stats.MessagesReceived),
					atomic.LoadInt64(&stats.Errors))
			}
		}
	}()

	wg.Wait()
	return stats
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	u, err := url.Parse(config.ServerURL)
	if err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	q := u.Query()
	q.Set("sampler", fmt.Sprintf("agitator-%03d", clientID))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		fmt.Printf("client %d: connection failed: %v\n", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	// Acks come back in send order on one connection.
	pending := make(chan time.Time, 256)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&stats.MessagesReceived, 1)

			var msg struct {
				Type    string `json:"type"`
				Payload struct {
					Held bool `json:"held"`
				} `json:"payload"`
			}
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			switch msg.Type {
			case network.MsgTypeSampleAck:
				atomic.AddInt64(&stats.Acks, 1)
				if msg.Payload.Held {
					atomic.AddInt64(&stats.Held, 1)
				}
				select {
				case sent := <-pending:
					stats.mu.Lock()
					stats.Latencies = append(stats.Latencies, time.Since(sent))
					stats.mu.Unlock()
				default:
				}
			case network.MsgTypeError:
				atomic.AddInt64(&stats.Errors, 1)
			}
		}
	}()

	ticker := time.NewTicker(config.SampleInterval)
	defer ticker.Stop()

	health := 100
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ticker.C:
			health = nextHealth(health)
			sample := map[string]interface{}{
				"type": network.MsgTypeHealthSample,
				"payload": map[string]interface{}{
					"health_percent": health,
					"confidence":     0.5 + rand.Float64()/2,
					"timestamp_ms":   time.Now().UnixMilli(),
				},
			}

			if err := conn.WriteJSON(sample); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.MessagesSent, 1)
			select {
			case pending <- time.Now():
			default:
			}
		}
	}
}

// nextHealth walks health like a fight: small hits, rare pickups, the odd death.
func nextHealth(h int) int {
	switch r := rand.Intn(100); {
	case h == 0:
		return 100
	case r < 40:
		h -= rand.Intn(15)
	case r < 50:
		h += 10 + rand.Intn(25)
	case r < 51:
		h = 0
	}
	return max(0, min(100, h))
}

// fetchServerMetrics reads /metrics.json from the relay behind the WebSocket URL.
func fetchServerMetrics(wsURL string) (map[string]interface{}, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/metrics.json"
	u.RawQuery = ""

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics returned %s", resp.Status)
	}

	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func printResults(stats *Stats, config Config) {
	fmt.Println()
	fmt.Println(titleStyle.Render("STRESS TEST RESULTS"))

	sent := atomic.LoadInt64(&stats.MessagesSent)
	recv := atomic.LoadInt64(&stats.MessagesReceived)
	acks := atomic.LoadInt64(&stats.Acks)
	held := atomic.LoadInt64(&stats.Held)
	errs := atomic.LoadInt64(&stats.Errors)

	fmt.Printf("Samples Sent:      %d\n", sent)
	fmt.Printf("Acks:              %d (%d held)\n", acks, held)
	fmt.Printf("Messages Received: %d\n", recv)
	fmt.Printf("Errors:            %d\n", errs)
	fmt.Printf("Error Rate:        %.2f%%\n", float64(errs)/float64(sent+1)*100)

	throughput := float64(sent) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:        %.2f samples/sec\n", throughput)

	stats.mu.Lock()
	latencies := stats.Latencies
	stats.mu.Unlock()
	if len(latencies) > 0 {
		var total time.Duration
		lo, hi := latencies[0], latencies[0]
		for _, l := range latencies {
			total += l
			lo = min(lo, l)
			hi = max(hi, l)
		}
		fmt.Printf("\nAck latency:\n")
		fmt.Printf("  Min: %v\n", lo)
		fmt.Printf("  Avg: %v\n", total/time.Duration(len(latencies)))
		fmt.Printf("  Max: %v\n", hi)
	}

	// Clients are rate limited server-side, so dropped samples show up as missing acks.
	fmt.Println()
	switch {
	case errs == 0 && acks >= sent*9/10:
		fmt.Println(passStyle.Render("TEST PASSED: relay kept up with the load"))
	case float64(errs)/float64(sent+1) < 0.05:
		fmt.Println(warnStyle.Render("TEST WARNING: some samples were dropped or failed"))
	default:
		fmt.Println(failStyle.Render("TEST FAILED: high error rate"))
	}

	results := map[string]interface{}{
		"samples_sent":       sent,
		"acks":               acks,
		"held":               held,
		"messages_received":  recv,
		"errors":             errs,
		"throughput_per_sec": throughput,
		"config": map[string]interface{}{
			"clients":  config.NumClients,
			"interval": config.SampleInterval.String(),
			"duration": config.TestDuration.String(),
			"profile":  config.Profile,
		},
	}

	serverMetrics, err := fetchServerMetrics(config.ServerURL)
	if err != nil {
		fmt.Println(warnStyle.Render("Could not read server metrics: " + err.Error()))
	} else {
		rec := optimization.Analyze(serverMetrics)
		tuned := optimization.ApplyRecommendations(optimization.ByName(config.Profile), rec)

		fmt.Println("\nTuning recommendations:")
		if len(rec.Notes) == 0 {
			fmt.Println("  none, the " + config.Profile + " profile is adequate")
		}
		for _, note := range rec.Notes {
			fmt.Println("  - " + note)
		}
		results["server_metrics"] = serverMetrics
		results["recommended_tuning"] = tuned
	}

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	if err := os.WriteFile(config.OutputFile, jsonData, 0644); err != nil {
		fmt.Println(failStyle.Render("Failed to save results: " + err.Error()))
		return
	}
	fmt.Println("\nResults saved to " + config.OutputFile)
}
