// Command gard runs the guaranteed-transaction service: the admin API, the
// reconciliation sweeper and the notification dispatcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gar/admin"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "gard",
		Short:         "gard - guaranteed transaction service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(sweepCmd(&configPath))
	rootCmd.AddCommand(showCmd(&configPath))
	return rootCmd
}

func serveCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API, sweeper and notification dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			eventStore := admin.NewEventStore(1000)
			a.bus.SubscribeAll(eventStore.EventHandler())

			opts := []admin.ServerOption{
				admin.WithAddr(cfg.Addr),
				admin.WithEngine(a.engine),
				admin.WithSweeper(a.sweeper),
				admin.WithDispatcher(a.dispatcher),
				admin.WithBreaker(a.breaker),
				admin.WithEventStore(eventStore),
			}
			if a.registry != nil {
				opts = append(opts, admin.WithHandler("GET "+cfg.Metrics.Path, a.metricsHandler()))
			}
			server := admin.NewServer(opts...)

			if err := a.dispatcher.Start(ctx); err != nil {
				return err
			}
			defer a.dispatcher.Stop()
			if err := a.sweeper.Start(ctx); err != nil {
				return err
			}
			defer a.sweeper.Stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			report := a.sweeper.ScanOnce(cmd.Context())
			out := sweepOutput{
				Scanned:   report.Scanned,
				Completed: report.Completed,
				Skipped:   report.Skipped,
			}
			for _, f := range report.Failures {
				out.Failures = append(out.Failures, fmt.Sprintf("%s: %v", f.Reference, f.Err))
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d transaction(s) failed to complete", len(report.Failures))
			}
			return nil
		},
	}
}

type sweepOutput struct {
	Scanned   int      `json:"scanned"`
	Completed []string `json:"completed"`
	Skipped   []string `json:"skipped"`
	Failures  []string `json:"failures,omitempty"`
}

func showCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show [reference]",
		Short: "Print a transaction and its timeline as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			tx, err := a.engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
