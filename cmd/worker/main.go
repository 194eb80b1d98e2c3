package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
	"github.com/asyncarush/makemates-sub000/internal/config"
	"github.com/asyncarush/makemates-sub000/internal/mqhandler"
	"github.com/asyncarush/makemates-sub000/internal/repository"
	"github.com/asyncarush/makemates-sub000/pkg/db"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/mq"
	redisclient "github.com/asyncarush/makemates-sub000/pkg/redis"
	"github.com/asyncarush/makemates-sub000/pkg/util"
)

const fanoutQueueName = "notification.fanout.q"

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Duration(cfg.Dedup.TTLSeconds)*time.Second, log)
	retries := util.NewRetryCounter(rdb, 24*time.Hour)

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	notiRepo := repository.NewNotificationRepository(dbConn)

	// Publisher for completion/failure signals, live-push requests and DLQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Without a bound queue the DLQ exchange drops poison jobs as unroutable.
	if err := publisher.EnsureDLQBinding(mqcontracts.RouteNotificationFanout); err != nil {
		log.Fatal("Failed to declare dead letter queue", zap.Error(err))
	}

	handler := mqhandler.NewNotificationJobHandler(
		notiRepo,
		deduper,
		retries,
		publisher,
		int64(cfg.Worker.MaxRetries),
		log,
	)

	// Competing consumers on one durable queue: each job goes to exactly
	// one worker at a time, batches are disjoint so workers never contend.
	for i := 0; i < cfg.Worker.Count; i++ {
		tag := fmt.Sprintf("notification-worker-%d", i)
		consumer, err := mq.NewConsumer(cfg.MQ.URL, fanoutQueueName, mqcontracts.RouteNotificationFanout, tag, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("tag", tag), zap.Error(err))
		}
		consumer.SetHandler(handler.Handle)
		go func(tag string) {
			log.Info("Starting consumer", zap.String("tag", tag))
			if err := consumer.StartConsuming(); err != nil {
				log.Fatal("Consumer failed", zap.String("tag", tag), zap.Error(err))
			}
		}(tag)
		defer consumer.Close()
	}

	log.Info("All consumers started, worker is ready to process jobs",
		zap.Int("count", cfg.Worker.Count),
	)

	<-ctx.Done()
	log.Info("Shutting down notification worker")
}
