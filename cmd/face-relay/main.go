// Package main is the entry point for the face relay.
// It only parses flags and wires commands; no relay logic belongs here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/stface-relay/internal/app"
	"github.com/MRamiBalles/stface-relay/internal/platform/config"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#B91C1C"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "face-relay",
		Short: "Relay sampled health readings to a status-bar face overlay",
		Long: titleStyle.Render("Face Relay") + `

Receives health samples from a screen sampler, runs them through the
status-bar face engine and serves the current face to overlays.

` + dimStyle.Render("Use 'face-relay [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")

	rootCmd.AddCommand(
		newServeCmd(),
		newFeedCmd(),
		newCheckCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("Starting face relay " + version + " for game " + cfg.Relay.GameID)
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize relay: %w", err)
			}

			runErr := a.Run(ctx)
			if err := a.Close(); err != nil {
				log.Error("Failed to close relay cleanly", err)
			}
			if runErr != nil {
				return runErr
			}
			log.Info("Face relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("face-relay " + version)
		},
	}
}
