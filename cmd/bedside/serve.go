package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-clinical/bedside/internal/api"
	"github.com/opensource-clinical/bedside/internal/bus"
	"github.com/opensource-clinical/bedside/internal/cache"
	"github.com/opensource-clinical/bedside/internal/catalog"
	"github.com/opensource-clinical/bedside/internal/config"
	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/logging"
	"github.com/opensource-clinical/bedside/internal/repository"
	"github.com/opensource-clinical/bedside/internal/scoring"
	"github.com/opensource-clinical/bedside/internal/tracing"
	"github.com/opensource-clinical/bedside/internal/usage"
	"github.com/opensource-clinical/bedside/internal/worker"
)

type serveFlags struct {
	serveEvaluations bool
	quiet            bool
}

func newServeCmd(root *rootFlags) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the instrument worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&f.serveEvaluations, "serve-evaluations", true, "Answer evaluation requests from the event bus")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "Do not print the startup banner")
	return cmd
}

func runServe(parent context.Context, root *rootFlags, f *serveFlags, out io.Writer) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	logCloser := logging.Setup(cfg.Logging)
	defer logCloser.Close()

	slog.Info("starting bedside",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return exitError(exitFailure, "failed to initialize tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled", "exporter", cfg.Tracing.ExporterType, "endpoint", cfg.Tracing.Endpoint)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return exitError(exitFailure, "failed to initialize repository: %v", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return exitError(exitFailure, "failed to initialize cache: %v", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return exitError(exitFailure, "failed to initialize event bus: %v", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	registry := scoring.NewRegistry(slog.Default())
	defer registry.Close()

	loader := catalog.NewLoader(cfg.Instruments, repo, slog.Default())
	if err := loader.Reload(ctx, registry); err != nil {
		return exitError(exitFailure, "failed to load instruments: %v", err)
	}

	usageSvc := usage.NewService(cacheImpl, cfg.Cache.UsageWindow)

	w := worker.NewWorker(busImpl, registry, loader, cacheImpl, usageSvc)
	if err := w.Start(worker.Config{ServeEvaluations: f.serveEvaluations}); err != nil {
		return exitError(exitFailure, "failed to start worker: %v", err)
	}

	srv := api.NewServer(cfg, api.Dependencies{
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Registry:   registry,
		Loader:     loader,
		Usage:      usageSvc,
		Worker:     w,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("bedside is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"instruments", registry.Count(),
	)
	if !f.quiet {
		printBanner(out, cfg, registry, Version)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop the worker before the bus it subscribes to.
	if err := w.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("bedside shutdown complete")
	if serveErr != nil {
		return exitError(exitFailure, "server failed: %v", serveErr)
	}
	return nil
}

func loadConfig(root *rootFlags) (*domain.Config, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return nil, exitError(exitInvalid, "%v", err)
	}
	if root.dir != "" {
		cfg.Instruments.Dir = root.dir
	}
	return cfg, nil
}

func printBanner(w io.Writer, cfg *domain.Config, registry *scoring.Registry, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "  ║                 BEDSIDE                   ║")
	fmt.Fprintln(w, "  ║      Declarative clinical risk scores     ║")
	fmt.Fprintln(w, "  ╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Instruments:")
	for _, s := range registry.List() {
		fmt.Fprintf(w, "    %-12s %-8s %s\n", s.ID, s.ScoreRange, s.Name)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    GET    /instruments               - Instrument catalog")
	fmt.Fprintln(w, "    GET    /instruments/{id}          - Full rule table")
	fmt.Fprintln(w, "    POST   /instruments/{id}/evaluate - Score a patient")
	fmt.Fprintln(w, "    GET    /instruments/{id}/usage    - Evaluation counters")
	fmt.Fprintln(w, "    POST   /instruments               - Add a custom rule table")
	fmt.Fprintln(w, "    DELETE /instruments/{id}          - Remove a custom rule table")
	fmt.Fprintln(w, "    POST   /instruments/reload        - Reload all rule tables")
	fmt.Fprintln(w, "    GET    /health                    - Health check")
	fmt.Fprintln(w)
}
