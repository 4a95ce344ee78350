package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"envelopes/internal/backend"
	"envelopes/internal/cache"
	"envelopes/internal/cli"
	apphttp "envelopes/internal/http"
	"envelopes/internal/ledger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	svc := ledger.New(res.Store, ledger.Options{
		MaxAttempts: cfg.TxMaxAttempts,
		Backoff:     cfg.TxBackoff,
		Publisher:   res.Publisher,
		Logger:      logger,
	})

	opts := apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	}
	if p, ok := res.Store.(pinger); ok {
		opts.Ready = p.Ping
	}
	srv := apphttp.NewServer(svc, opts)

	caches := cache.NewManager(logger)
	for _, c := range srv.Cleaners() {
		caches.Register(c)
	}
	caches.StartCleanup(cfg.CacheCleanupInterval)

	base, stop := context.WithCancel(context.Background())
	defer stop()
	ctx, done := cli.GracefulShutdown(base, logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	var g errgroup.Group
	g.Go(func() error {
		defer stop()
		logger.Info("Starting envelopes server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events_enabled", res.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on :%s: %w", cfg.Port, err)
		}
		return nil
	})

	cli.WaitForShutdown(ctx, done)
	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
