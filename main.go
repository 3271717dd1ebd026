package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinique/artifacts"
	"clinique/config"
	chttp "clinique/http"
	"clinique/logging"
	"clinique/monitoring"
	"clinique/predict"
	"clinique/sentiment"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 2. Load model artifacts before accepting traffic
	store := artifacts.Open(cfg.Models.Dir, logger)

	scorer, err := sentiment.NewScorer(nil, cfg.Sentiment.CacheEntries())
	if err != nil {
		logger.Fatal("failed to build sentiment scorer", zap.Error(err))
	}
	service := predict.NewService(store, scorer, logger)

	metrics := monitoring.NewMetricsCollector()
	hub := monitoring.NewWebSocketHub(cfg.HTTP.AllowedOrigins, logger)
	go hub.Start()

	// 3. Start HTTP server
	serverCfg := chttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}
	api := chttp.NewAPI(service, store, metrics, hub, logger)
	server := chttp.NewServer(serverCfg, chttp.NewRouter(api, serverCfg, logger), logger)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	// 4. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errc:
		if err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("server stop", zap.Error(err))
	}
	hub.Stop()
	logger.Info("exiting")
}
