package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/apiserver"
	"github.com/syllaflow/syllaflow/pkg/config"
	"github.com/syllaflow/syllaflow/pkg/eventbus"
	"github.com/syllaflow/syllaflow/pkg/notify"
	"github.com/syllaflow/syllaflow/pkg/store/postgres"
	redisclient "github.com/syllaflow/syllaflow/pkg/store/redis"
	"github.com/syllaflow/syllaflow/pkg/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.NewBus(redis.Client())
	hub := notify.NewHub(logger)
	go notify.RunBridge(ctx, bus, hub, logger)

	var gateway notify.Gateway
	if cfg.Push.Endpoint != "" {
		gateway = notify.NewHTTPGateway(cfg.Push)
	} else {
		gateway = notify.NewNopGateway(logger)
	}

	notifier := notify.NewService(
		postgres.NewNotificationRepository(db.DB()),
		postgres.NewFollowRepository(db.DB()),
		postgres.NewDeviceTokenRepository(db.DB()),
		notify.NewBusBroadcaster(bus, logger),
		gateway,
		logger,
	)

	reviewWindow := time.Duration(cfg.Deadline.ReviewHours) * time.Hour
	workflows := workflow.NewService(postgres.NewWorkflowRepository(db.DB()), logger, reviewWindow)

	server := apiserver.NewServer(workflows, notifier, hub, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		logger.Info("starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
