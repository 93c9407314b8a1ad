package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/natserract/distributors/pkg/config"
	"github.com/natserract/distributors/pkg/logger"
	"github.com/natserract/distributors/pkg/metrics"
	"github.com/natserract/distributors/pkg/pricebook"
	sfapex "github.com/natserract/distributors/pkg/salesforce/apex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.DebugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	apex := sfapex.NewFromConfig(cfg.Salesforce, m, log)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           pricebook.NewRouter(cfg, apex, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pool.New().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		log.Info("Starting server",
			zap.String("app", cfg.AppName),
			zap.String("addr", srv.Addr),
			zap.String("salesforce_domain", cfg.Salesforce.Domain),
			zap.Duration("session_ttl", cfg.Salesforce.SessionTTL),
			zap.Bool("strict_response_models", cfg.StrictResponseModels))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := p.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Server stopped")
}
