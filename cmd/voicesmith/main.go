// Command voicesmith is the main entry point for the Voicesmith training
// orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narratale/voicesmith/internal/config"
	"github.com/narratale/voicesmith/internal/health"
	"github.com/narratale/voicesmith/internal/ledger"
	"github.com/narratale/voicesmith/internal/observe"
	"github.com/narratale/voicesmith/internal/samples"
	"github.com/narratale/voicesmith/internal/server"
	"github.com/narratale/voicesmith/internal/session"
	"github.com/narratale/voicesmith/internal/training"
	"github.com/narratale/voicesmith/pkg/provider/clone"
	"github.com/narratale/voicesmith/pkg/provider/clone/elevenlabs"
	clonemock "github.com/narratale/voicesmith/pkg/provider/clone/mock"
	"github.com/narratale/voicesmith/pkg/provider/clone/xtts"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicesmith: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicesmith: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicesmith starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Provider.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicesmith",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to create database pool", "err", err)
		return 1
	}
	defer pool.Close()

	sampleRepo := samples.NewPostgresRepository(pool)
	costLedger := ledger.NewPostgresLedger(pool)
	jobStore := training.NewPostgresJobStore(pool)

	// Cost records are inserted by the job completion transaction, so the
	// ledger schema must exist before the first job completes.
	for _, migrate := range []func(context.Context) error{
		sampleRepo.Migrate, costLedger.Migrate, jobStore.Migrate,
	} {
		if err := migrate(ctx); err != nil {
			slog.Error("migration failed", "err", err)
			return 1
		}
	}

	// ── Clone provider ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateClone(cfg.Provider)
	if err != nil {
		slog.Error("failed to create clone provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("clone provider created", "name", provider.Name())

	// ── Orchestration ─────────────────────────────────────────────────────────
	sessions := session.NewStore(sampleRepo)
	controller := training.NewController(training.ControllerConfig{
		Jobs:               jobStore,
		Samples:            sampleRepo,
		Provider:           provider,
		Sessions:           sessions,
		Metrics:            metrics,
		MinSamples:         cfg.Training.MinSamples,
		MaxSamples:         cfg.Training.MaxSamples,
		ProviderTimeout:    cfg.Training.ProviderTimeout.Std(),
		Workers:            cfg.Training.Workers,
		QueueSize:          cfg.Training.QueueSize,
		CostPerSampleCents: cfg.Training.CostPerSampleCents,
	})
	resetService := training.NewResetService(jobStore, sessions)

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api := server.New(server.Config{
		Samples:    sampleRepo,
		Sessions:   sessions,
		Controller: controller,
		Reset:      resetService,
		Costs:      costLedger,
		Metrics:    metrics,
		Threshold:  cfg.Training.Threshold,
	})
	api.Register(mux)

	health.New(health.Checker{
		Name:  "database",
		Check: pool.Ping,
	}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := controller.Close(); err != nil {
		slog.Warn("controller close error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all built-in clone provider factories into
// reg. Each factory receives a config.ProviderEntry and constructs the
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterClone("elevenlabs", func(entry config.ProviderEntry) (clone.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterClone("xtts", func(entry config.ProviderEntry) (clone.Provider, error) {
		var opts []xtts.Option
		if token := optString(entry.Options, "token"); token != "" {
			opts = append(opts, xtts.WithToken(token))
		}
		return xtts.New(entry.BaseURL, opts...)
	})

	// mock trains nothing; it exists for local development without provider
	// credentials.
	reg.RegisterClone("mock", func(config.ProviderEntry) (clone.Provider, error) {
		return &clonemock.Provider{}, nil
	})

	for _, name := range config.ValidProviderNames {
		slog.Debug("registered provider", "kind", "clone", "name", name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
