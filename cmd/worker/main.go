package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/metrics"
	"github.com/code-Quester/SpeakSutra/internal/services"
	"github.com/code-Quester/SpeakSutra/internal/tasks"
)

// A task still running after this long belongs to a process that died mid-run.
const staleTaskAge = 15 * time.Minute

func main() {
	cfg := config.MustLoad()
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	db, err := services.OpenDatabase(cfg.Database.URL, false)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	reg := prometheus.NewRegistry()

	// Initialize Task Registry
	tasks.DefineTasks(tasks.GlobalRegistry)
	runner := tasks.NewRunner(&tasks.Env{
		DB:            db,
		Email:         services.NewEmailService(cfg.SMTP, cfg.Course),
		Whatsapp:      services.NewWahaService(cfg.Waha),
		Course:        cfg.Course,
		OperatorEmail: cfg.SMTP.OperatorEmail,
		Metrics:       metrics.NewEnrollmentMetrics(reg),
	}, tasks.GlobalRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Worker.MetricsAddr != "" {
		srv := newMetricsServer(cfg.Worker.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.WithError(err).Error("metrics listener stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Log.WithFields(logrus.Fields{
		"interval":     cfg.Worker.Interval,
		"metrics_addr": cfg.Worker.MetricsAddr,
	}).Info("Worker started")

	ticker := time.NewTicker(cfg.Worker.Interval)
	defer ticker.Stop()

	tick(ctx, runner)
	for {
		select {
		case <-ticker.C:
			tick(ctx, runner)
		case <-ctx.Done():
			logger.Log.Info("Shutting down worker...")
			return
		}
	}
}

// newMetricsServer exposes the worker's notification counters, which live in the
// worker process and never reach the API server's /metrics.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func tick(ctx context.Context, runner *tasks.Runner) {
	recovered, err := runner.RecoverStale(ctx, staleTaskAge)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to recover stale tasks")
	} else if recovered > 0 {
		logger.Log.Warnf("Returned %d stale running tasks to active", recovered)
	}

	if ran := runner.ProcessDue(ctx); ran > 0 {
		logger.Log.Infof("Processed %d tasks", ran)
	}
}
