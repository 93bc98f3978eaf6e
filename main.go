package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"healthai/config"
	"healthai/db"
	qhttp "healthai/http"
	"healthai/inference"
	"healthai/logger"
	"healthai/ml"
	"healthai/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	// 2. Load models; the service cannot start without them
	models, err := inference.LoadModelSet(inference.ModelPaths{
		Readmission: cfg.Models.ReadmissionPath,
		Severity:    cfg.Models.SeverityPath,
	}, ml.ExplainOptions{
		Permutations: cfg.Explain.Permutations,
		Seed:         cfg.Explain.Seed,
	}, zlog)
	if err != nil {
		zlog.Fatal("failed to load models", zap.Error(err))
	}

	// 3. Optional prediction store
	opts := inference.Options{TopK: cfg.Explain.TopK, CacheSize: cfg.Cache.Size}
	if cfg.Metrics.Enabled {
		opts.Metrics = monitoring.NewMetrics()
	}
	var querier qhttp.PredictionQuerier
	if cfg.Store.Path != "" {
		store, err := db.Open(cfg.Store.Path)
		if err != nil {
			zlog.Fatal("failed to open prediction store", zap.Error(err))
		}
		defer store.Close()
		opts.Store = store
		querier = store
		zlog.Info("prediction store enabled", zap.String("path", cfg.Store.Path))
	}

	hub := monitoring.NewHub(zlog)
	go hub.Run()
	defer hub.Stop()
	opts.Feed = hub
	models.OnReload(inference.ReloadHook(hub, opts.Metrics, zlog))

	service, err := inference.NewService(models, opts, zlog)
	if err != nil {
		zlog.Fatal("failed to build prediction service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Models.Watch {
		go func() {
			if err := models.Watch(ctx); err != nil {
				zlog.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	// 4. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, qhttp.NewHandlers(service, querier, zlog), hub, zlog)
	go func() {
		if err := server.Start(); err != nil {
			zlog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// 5. Handle graceful shutdown
	<-ctx.Done()
	zlog.Info("shutting down")

	if err := server.Stop(context.Background()); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}
	zlog.Info("exiting")
}
