package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"gastos/internal/analysis"
	"gastos/internal/cache"
	"gastos/internal/cli"
	"gastos/internal/core"
	apphttp "gastos/internal/http"
	"gastos/internal/log"
	"gastos/internal/metrics"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/services"
)

func main() {
	if err := run(); err != nil {
		log.FromContext(context.Background()).Error("gastos exited with error", log.FieldError, err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file for local development (ignore errors in production/docker)
	if err := cli.LoadEnvFile(); err != nil {
		return err
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp, os.Stdout)

	ctx, stop := cli.SignalContext()
	defer stop()

	result, err := cli.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close record store", log.FieldError, err)
		}
	}()

	m := metrics.New()

	opts := []services.Option{services.WithMetrics(m), services.WithLogger(logger)}
	amqpClient, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		// Events are optional; the app keeps serving without them
		logger.Error("Failed to connect to AMQP, continuing without events", log.FieldError, err)
	} else if amqpClient != nil {
		opts = append(opts, services.WithPublisher(amqpClient))
	}
	service := services.NewExpenseService(result.Store, opts...)
	defer func() {
		if err := service.Close(); err != nil {
			logger.Error("Failed to close expense service", log.FieldError, err)
		}
	}()

	reportCache := cache.NewLRUCache[core.MonthKey, analysis.Report](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager(cfg.CacheTTL, logger.WithComponent(log.ComponentCache).Logger)
	cacheManager.Register(reportCache)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return err
		}
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Service:  service,
		Analyzer: analysis.NewAnalyzer(result.Store, logger.WithComponent(log.ComponentAnalysis).Logger),
		Reports:  cache.NewLoader(reportCache),
		Metrics:  m,
		Limiter:  limiter,
		Detector: detector,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting gastos server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"amqp_enabled", amqpClient != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return cacheManager.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
