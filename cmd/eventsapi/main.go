package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tenantapi/internal/api"
	"tenantapi/internal/config"
	"tenantapi/internal/metrics"
	"tenantapi/internal/registry"
	"tenantapi/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	metrics.Init()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("path", path))

	prov := storage.NewProvisioner(cfg.Database, storage.EventsSchema(cfg.Database.Schema), logger)
	reg := registry.New(prov, logger)
	defer reg.Close()

	store := storage.NewEventStore(cfg.Database.Schema, logger)
	apiHandler := api.NewEventsAPI(reg, store, cfg, logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiHandler.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting events API server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
}
