package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/MRamiBalles/stface-relay/internal/relay"
	"github.com/MRamiBalles/stface-relay/internal/sampler"
)

func newFeedCmd() *cobra.Command {
	var (
		target string
		rate   float64
		loop   bool
	)

	cmd := &cobra.Command{
		Use:   "feed <scenario|file.yaml>",
		Short: "Pace a scenario's samples into a relay, like a live sampler would",
		Long: `Send the samples of a scenario at a fixed rate. With --url the samples
are posted to a running relay; otherwise a local relay is used and the
resulting frames are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := loadConfig()
			if err != nil {
				return err
			}
			script, err := findScript(args[0])
			if err != nil {
				return err
			}
			if rate <= 0 {
				return fmt.Errorf("rate must be positive, got %v", rate)
			}

			var sink sampler.Sink
			if target != "" {
				sink = sampler.NewHTTPSink(target, &http.Client{Timeout: 2 * time.Second})
			} else {
				sink = sampler.NewRelaySink(relay.New("feed:" + script.Name))
			}

			last := ""
			t := sampler.NewTicker(sink, script.Payloads(), log.With("feed"),
				sampler.WithPeriod(time.Duration(float64(time.Second)/rate)),
				sampler.WithLoop(loop),
				sampler.WithResultHandler(func(res sampler.Result) {
					if res.Held {
						fmt.Println(dimStyle.Render("  held    " + res.State.Frame))
						return
					}
					if res.State.Frame != last {
						fmt.Printf("  tick %-4d %-8s health=%d look=%s\n",
							res.State.Tick, res.State.Frame, res.State.HealthPercent, res.State.Look)
						last = res.State.Frame
					}
				}),
			)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			fmt.Println(titleStyle.Render("Feeding " + script.Name))
			t.Start(ctx)

			summary := fmt.Sprintf("%d sent, %d failed", t.Sent(), t.Failed())
			if t.Failed() > 0 {
				fmt.Println(errorStyle.Render(summary))
				return fmt.Errorf("%d of %d samples failed", t.Failed(), t.Sent()+t.Failed())
			}
			fmt.Println(successStyle.Render(summary))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "relay base URL, e.g. http://127.0.0.1:8765")
	cmd.Flags().Float64Var(&rate, "rate", 10, "samples per second")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart the scenario when it ends")
	return cmd
}
