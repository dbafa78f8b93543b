package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/engagex/internal/api"
	"github.com/ignite/engagex/internal/app"
	"github.com/ignite/engagex/internal/bridge"
	"github.com/ignite/engagex/internal/config"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/tracking"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", "error", err)
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

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	verifier, err := bridge.NewVerifier(cfg.Bridge.Secret, cfg.Bridge.FreshnessWindow())
	if err != nil {
		return fmt.Errorf("auth bridge: %w", err)
	}

	deps := api.Deps{
		Campaigns: a.Campaigns,
		Domains:   a.Domains,
		Engine:    a.Engine,
		Verifier:  verifier,
		Locks:     a.Locks,
		Webhook:   tracking.NewSESWebhook(a.Engine, nil),
	}
	var depth api.QueueDepth
	if a.Queue != nil {
		deps.Jobs = a.Queue
		depth = a.Queue
	}
	deps.Health = api.NewHealthChecker(a.DB, a.Redis, depth)

	if a.Links != nil {
		// Hits are applied by the worker when a queue is configured, inline otherwise.
		var sink tracking.Sink = tracking.NewDirectSink(a.Engine)
		if a.SQS != nil {
			sink = tracking.NewPublisher(a.SQS, cfg.Tracking.SQSQueue)
		}
		deps.Tracking = tracking.NewHandler(a.Links, sink)
	} else {
		logger.Warn("tracking disabled: base url or signing key missing")
	}

	server := api.NewServer(cfg.Server, deps)
	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
