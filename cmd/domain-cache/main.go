// Command domain-cache is a per-domain SEO data cache service backed by
// durable local storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sitepulse/domain-cache/server"
	"github.com/sitepulse/domain-cache/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		address       = flag.String("address", ":8080", "Address to listen on")
		storage       = flag.String("storage", "./domain-cache.db", "Cache database file path")
		records       = flag.String("records", "./domain-records.db", "Context record database file path")
		profileURL    = flag.String("profile-url", "", "Base URL of the profile service")
		extractionURL = flag.String("extraction-url", "", "Base URL of the extraction service")
		authToken     = flag.String("auth-token", "", "Bearer token required on API requests (empty disables auth)")
		listTTL       = flag.Duration("list-ttl", 24*time.Hour, "TTL for domain list cache entries")
		contextTTL    = flag.Duration("context-ttl", 7*24*time.Hour, "TTL for domain context cache entries")
		sweepInterval = flag.Duration("sweep-interval", time.Hour, "How often to reclaim expired entries (0 to disable)")
		otlpEndpoint  = flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for metrics export (e.g., localhost:4317)")
		prometheus    = flag.Bool("prometheus", false, "Enable the Prometheus /metrics endpoint")
		logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat     = flag.String("log-format", "text", "Log format (text, json)")
	)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", *logLevel)
	}

	var handler slog.Handler
	switch *logFormat {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return fmt.Errorf("invalid log format: %s", *logFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	shutdownMetrics, err := telemetry.InitMetrics(context.Background(), telemetry.MetricsConfig{
		ServiceName:      "domain-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     *otlpEndpoint,
		EnablePrometheus: *prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	cfg := server.Config{
		Address:       *address,
		StoragePath:   *storage,
		RecordPath:    *records,
		ProfileURL:    *profileURL,
		ExtractionURL: *extractionURL,
		AuthToken:     *authToken,
		ListTTL:       *listTTL,
		ContextTTL:    *contextTTL,
		SweepInterval: *sweepInterval,
		Logger:        logger,
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"version", version,
		"address", srv.Address(),
		"storage", *storage,
		"records", *records,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer metricsCancel()
		if merr := shutdownMetrics(metricsCtx); merr != nil && err == nil {
			err = merr
		}
		return err
	case err := <-errCh:
		return err
	}
}
