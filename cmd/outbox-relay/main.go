package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/config"
	"github.com/syllaflow/syllaflow/pkg/store/postgres"
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

	writer := syncpkg.NewTopicWriter(cfg.Kafka.Brokers, cfg.Kafka.SyncTopic)
	defer writer.Close()

	dlqWriter := syncpkg.NewTopicWriter(cfg.Kafka.Brokers, cfg.Kafka.DLQTopic)
	defer dlqWriter.Close()

	repo := postgres.NewOutboxRepository(db.DB())
	relay := syncpkg.NewRelay(repo, writer, dlqWriter, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("outbox relay stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("outbox relay shutting down")
}
