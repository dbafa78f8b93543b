package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ignite/engagex/internal/app"
	"github.com/ignite/engagex/internal/config"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/tracking"
	"github.com/ignite/engagex/internal/worker"
)

func main() {
	if err := run(); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Queue == nil {
		return errors.New("the worker needs redis for the dispatch queue")
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Info("worker loop stopped", "loop", name)
		}()
		logger.Info("worker loop started", "loop", name)
	}

	delivery := cfg.Delivery
	start("dispatch", worker.NewDispatchWorker(a.Queue, a.Engine, a.CampaignRepo, a.Locks, delivery.Workers).Run)
	start("scheduler", worker.NewCampaignScheduler(a.CampaignRepo, a.DomainRepo, a.Queue,
		delivery.SchedulerInterval(), 10*delivery.SchedulerInterval()).Run)
	start("stats", worker.NewStatsRefresher(a.CampaignRepo, a.Engine, delivery.StatsRefresh()).Run)
	start("domains", worker.NewDomainSweeper(a.Domains, 10*time.Minute).Run)
	start("queue-recovery", worker.NewQueueRecoveryWorker(a.Queue, 2*time.Minute).Run)
	if a.SQS != nil {
		start("tracking", tracking.NewConsumer(a.SQS, cfg.Tracking.SQSQueue, a.Engine).Run)
	}

	// metrics only; the API lives in cmd/server
	metricsSrv := &http.Server{Addr: metricsAddr(), Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down worker, waiting for in-flight jobs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
	logger.Info("worker stopped")
	return nil
}

func metricsAddr() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
