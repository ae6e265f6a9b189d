package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifybridge/internal/bridge"
	"notifybridge/internal/config"
	"notifybridge/internal/gateway"
	"notifybridge/internal/logging"
	"notifybridge/internal/metrics"
)

func main() {
	var (
		configFile = flag.String("config", "./config/config.yaml", "Path to configuration file")
		listenAddr = flag.String("listen", "", "Gateway listen address (overrides config file)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listenAddr != "" {
		cfg.Gateway.ListenAddr = *listenAddr
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger := logging.Component("main")
	logger.Infof("Starting notification bridge: %s", cfg.Summary())

	var provider metrics.Provider = metrics.Noop{}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		prom := metrics.NewProm()
		provider = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
		logger.Infof("Metrics exposed on %s/metrics", cfg.Metrics.ListenAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bridge.Open(ctx, cfg, provider)
	if err != nil {
		logger.Fatalf("Failed to start bridge: %v", err)
	}
	logger.Infof("Bridge ready with %d publishers", len(b.Publishers()))

	gw := gateway.NewServer(b, gateway.Config{
		CookieName:       cfg.Gateway.CookieName,
		NotificationType: cfg.Gateway.NotificationType,
		SendBuffer:       cfg.Gateway.SendBuffer,
	}, gateway.WithLogger(logging.Component("gateway")), gateway.WithMetrics(provider))
	httpServer := &http.Server{Addr: cfg.Gateway.ListenAddr, Handler: gw.Handler(), ReadHeaderTimeout: 5 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Gateway listening on %s", cfg.Gateway.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down notification bridge...")
	case err := <-serveErr:
		logger.Errorf("Gateway server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Gateway shutdown: %v", err)
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warnf("Closing client connections: %v", err)
	}
	if err := b.Close(); err != nil {
		logger.Warnf("Closing bridge: %v", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info("Notification bridge stopped")
}
