package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/planillas/api"
	"github.com/use-agent/planillas/api/handler"
	"github.com/use-agent/planillas/cache"
	"github.com/use-agent/planillas/config"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/scraper"
	"github.com/use-agent/planillas/telemetry"
	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds the direct site check behind /health?probe=true.
const probeTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("planillas exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// ── 2. Initialise structured logging and tracing ────────────────
	initLogger(cfg.Log)
	slog.Info("planillas starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"remoteBrowser", cfg.Browser.WSEndpoint != "",
	)

	if cfg.Telemetry.TraceStdout {
		tp, err := telemetry.Setup("planillas", handler.Version)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Establish the shared browser session ─────────────────────
	connector := scraper.NewConnector(cfg.Browser, cfg.Scraper)
	runner := scraper.NewRunner(cfg.Site, cfg.Scraper)
	sup := engine.NewSupervisor(connector, runner, cfg.Queue.MaxRetries)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("establish browser session: %w", err)
	}
	defer sup.Close()

	// ── 4. Queue, cache, probe ──────────────────────────────────────
	// Runs use a context that outlives shutdown so the in-flight lookup
	// can finish while the server drains.
	q := engine.NewQueue(context.WithoutCancel(ctx), sup)
	cc := cache.New(cfg.Cache.MaxEntries)
	prober := engine.NewProber(probeTimeout, cfg.Browser.AcceptLanguage)

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(cfg, api.Deps{
		Queue:   q,
		Session: sup,
		Prober:  prober,
		Cache:   cc,
	}, time.Now())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 6. Serve until a signal arrives ─────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")

		// Pending lookups resolve as QUEUE_CLOSED; the in-flight one
		// finishes while the server drains.
		q.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server forced shutdown", "error", err)
			return err
		}
		slog.Info("HTTP server drained gracefully")
		return nil
	})

	err = g.Wait()
	// sup.Close() runs via defer and drops the browser connection.
	slog.Info("planillas stopped")
	return err
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
