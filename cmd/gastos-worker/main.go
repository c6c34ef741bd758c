package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"gastos/internal/amqp"
	"gastos/internal/analysis"
	"gastos/internal/cli"
	"gastos/internal/log"
	"gastos/internal/metrics"
	"gastos/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.FromContext(context.Background()).Error("gastos-worker exited with error", log.FieldError, err)
		os.Exit(1)
	}
}

func run() error {
	if err := cli.LoadEnvFile(); err != nil {
		return err
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	if !cfg.AMQPEnabled() {
		return fmt.Errorf("AMQP_URL is required for the worker")
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker, os.Stdout)
	logger.Info("Starting gastos-worker")

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

	amqpClient, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		return err
	}
	defer amqpClient.Close()

	m := metrics.New()
	analyzer := analysis.NewAnalyzer(result.Store, logger.WithComponent(log.ComponentAnalysis).Logger)
	alertWorker := worker.NewAlertWorker(analyzer, m, logger)

	// Report alerts raised while the worker was down
	if err := alertWorker.StartupCheck(ctx); err != nil {
		logger.Error("Startup alert check failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := amqpClient.ConsumeExpenseEvents(gctx, func(ctx context.Context, msg *amqp.ExpenseEventMessage) error {
			m.SetCircuitState(amqpClient.State())
			return alertWorker.HandleEvent(ctx, msg)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.WorkerMetricsPort != "" {
		opsServer := newOpsServer(":"+cfg.WorkerMetricsPort, m)
		g.Go(func() error {
			logger.Info("Serving worker metrics", "port", cfg.WorkerMetricsPort)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return opsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Worker stopped gracefully")
	return nil
}

// newOpsServer exposes liveness and Prometheus metrics for the worker.
func newOpsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", m.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
