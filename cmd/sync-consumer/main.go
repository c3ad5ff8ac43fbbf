package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/config"
	"github.com/syllaflow/syllaflow/pkg/eventbus"
	"github.com/syllaflow/syllaflow/pkg/notify"
	"github.com/syllaflow/syllaflow/pkg/store/postgres"
	redisclient "github.com/syllaflow/syllaflow/pkg/store/redis"
	syncpkg "github.com/syllaflow/syllaflow/pkg/sync"
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

	handler := syncpkg.NewDocumentHandler(postgres.NewDocumentRepository(db.DB()), notifier, logger)

	producer := syncpkg.NewProducer(syncpkg.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID,
		RetryTopic: cfg.Kafka.RetryTopic,
		DLQTopic:   cfg.Kafka.DLQTopic,
	})
	defer producer.Close()

	deduper := redisclient.NewEventDeduper(redis.Client(), 24*time.Hour)

	consumer := syncpkg.NewConsumer(syncpkg.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID,
		GroupID:    cfg.Kafka.ConsumerGroup,
		SyncTopic:  cfg.Kafka.SyncTopic,
		RetryTopic: cfg.Kafka.RetryTopic,
		DLQTopic:   cfg.Kafka.DLQTopic,
		MaxRetries: cfg.Kafka.MaxRetries,
	}, producer, handler.Handle, deduper, logger)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("sync consumer stopped with error", zap.Error(err))
		}
	}()

	logger.Info("sync consumer started",
		zap.String("topic", cfg.Kafka.SyncTopic),
		zap.String("group", cfg.Kafka.ConsumerGroup),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("sync consumer shutting down")
}
