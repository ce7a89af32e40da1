package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micro-ha/tomato-presence/addon/internal/config"
	"github.com/micro-ha/tomato-presence/addon/internal/events"
	httpapi "github.com/micro-ha/tomato-presence/addon/internal/http"
	"github.com/micro-ha/tomato-presence/addon/internal/logging"
	"github.com/micro-ha/tomato-presence/addon/internal/poller"
	"github.com/micro-ha/tomato-presence/addon/internal/service"
	"github.com/micro-ha/tomato-presence/addon/internal/storage"
	"github.com/micro-ha/tomato-presence/addon/internal/tomato"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	routerCfg, err := config.LoadRouter(cfg.AddonOptionsPath)
	if err != nil {
		logger.Error("router configuration invalid", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	scanner := tomato.New(routerCfg, logger)
	if !scanner.SuccessInit() {
		logger.Warn("initial router scan failed; will retry on schedule", "host", routerCfg.Host)
	}

	hub := events.NewHub(logger)
	svc := service.New(repo, scanner, hub, logger)
	devicePoller := poller.New(svc, routerCfg.PollInterval(), logger)

	go devicePoller.Run(ctx)
	devicePoller.TriggerRefresh()

	api := httpapi.New(svc, devicePoller, hub, logger, cfg.FrontendDist)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr, "router", routerCfg.Host)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
