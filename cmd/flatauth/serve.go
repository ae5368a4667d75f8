// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flatauth/flatauth/internal/config"
	"github.com/flatauth/flatauth/internal/observability"
	"github.com/flatauth/flatauth/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived auth process",
		Long: `Run the long-lived auth process: serves metrics and health
endpoints and reconciles the store indexes on a fixed interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), a, cmd)
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().Duration("session-ttl", config.DefaultSessionTTL, "session lifetime")
	cmd.Flags().Duration("reset-ttl", config.DefaultResetTTL, "password reset token window")
	cmd.Flags().Duration("sweep-interval", config.DefaultSweepInterval, "index reconciliation interval (0 = disabled)")

	return cmd
}

func runServe(ctx context.Context, a *app, cmd *cobra.Command) error {
	slog.Info("starting auth process",
		"data_dir", a.cfg.DataDir,
		"log_format", a.cfg.LogFormat,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer *observability.Server
	if a.cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(a.cfg.MetricsAddr, func() bool { return true })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return err
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	if a.cfg.SweepInterval > 0 {
		go runSweepLoop(ctx, a)
		slog.Info("reconciliation sweep scheduled", "interval", a.cfg.SweepInterval)
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Auth process started")

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(a.logger, "error stopping observability server", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// runSweepLoop reconciles the store on a fixed interval until ctx is done.
func runSweepLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.sweeper.Run(ctx)
			if err != nil {
				errutil.LogError(a.logger, "reconciliation sweep failed", err)
				continue
			}
			slog.Info("reconciliation sweep complete",
				"users_scanned", report.UsersScanned,
				"entries_added", report.EntriesAdded,
				"entries_removed", report.EntriesRemoved,
				"sessions_removed", report.SessionsRemoved,
				"otps_cleared", report.OTPsCleared,
			)
		}
	}
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error so the process shuts down instead of limping on.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			errutil.LogError(slog.Default(), serverName+" server error, triggering shutdown", err)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
