// Package main is the orchestrator core's service entrypoint: a cobra CLI
// exposing "serve" (run the API, scheduler, and broker consumer loops
// until signalled) and "replay-dlq" (re-enqueue dead-lettered tasks for
// redispatch, then exit).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bluebox123/agentic-orchestrator/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		natsURL    string
	)

	rootCmd := &cobra.Command{
		Use:     "orchestratord",
		Short:   "Agentic workflow orchestration core",
		Long:    "orchestratord runs the planner, orchestrator state machine, artifact store, scheduler, and public API of the agentic workflow orchestration core.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default: embedded)")

	rootCmd.AddCommand(newServeCmd(&configPath, &natsURL))
	rootCmd.AddCommand(newReplayDLQCmd(&configPath, &natsURL))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads the layered config (defaults -> user -> project) unless
// an explicit --config path is given, then applies the --nats-url override
// and validates the result.
func loadConfig(configPath, natsURL string) (*config.Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if natsURL != "" {
		cfg.NATS.URL = natsURL
		cfg.NATS.Embedded = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newServeCmd(configPath, natsURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator's API, scheduler, and broker consumer loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *natsURL)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}

			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start app: %w", err)
			}

			<-ctx.Done()
			app.Shutdown(10 * time.Second)
			return nil
		},
	}
}

func newReplayDLQCmd(configPath, natsURL *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Re-enqueue up to --limit dead-lettered tasks for redispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *natsURL)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer app.Shutdown(5 * time.Second)

			if err := app.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			n, err := app.ReplayDLQ(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("replay DLQ: %w", err)
			}
			fmt.Printf("re-enqueued %d task(s) from the dead-letter queue\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of DLQ entries to replay")
	return cmd
}
