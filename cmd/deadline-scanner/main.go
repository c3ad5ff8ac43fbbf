package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/config"
	"github.com/syllaflow/syllaflow/pkg/eventbus"
	"github.com/syllaflow/syllaflow/pkg/notify"
	"github.com/syllaflow/syllaflow/pkg/scanner"
	"github.com/syllaflow/syllaflow/pkg/store/postgres"
	redisclient "github.com/syllaflow/syllaflow/pkg/store/redis"
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

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	bus := eventbus.NewBus(redis.Client())

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

	ledger := redisclient.NewReminderLedger(redis.Client(), cfg.Deadline.ReminderCooldown)
	docs := postgres.NewDocumentRepository(db.DB())
	follows := postgres.NewFollowRepository(db.DB())

	scan := scanner.New(docs, follows, notifier, ledger, cfg.Deadline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := scan.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("deadline scanner stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("deadline scanner shutting down")
}
