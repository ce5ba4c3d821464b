package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voicetap/internal/app"
	"github.com/MrWong99/voicetap/internal/config"
	"github.com/MrWong99/voicetap/internal/observe"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Activate the engine and route buffers until interrupted",
		RunE:  runServer,
	}
	cmd.Flags().String("listen", "", "override server.listen_addr (e.g. :9464)")
	cmd.Flags().String("log-level", "", "override server.log_level (debug, info, warn, error)")
	cmd.Flags().Bool("watch", true, "reload consumer settings when the config file changes")
	cmd.Flags().Duration("watch-interval", 5*time.Second, "config file polling interval")
	return cmd
}

// runServer starts the main application.
func runServer(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Server.LogLevel = config.LogLevel(v)
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	slog.Info("voicetap starting",
		"version", Version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"engine", cfg.Engine.Name,
		"consumers", len(cfg.Consumers),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	mp, shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
		Registerer:     prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithGatherer(prometheus.DefaultGatherer),
		app.WithLevelVar(levelVar),
	}
	if watch, _ := cmd.Flags().GetBool("watch"); watch && path != "" {
		interval, _ := cmd.Flags().GetDuration("watch-interval")
		opts = append(opts, app.WithConfigWatch(path, interval))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
