package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
	"github.com/asyncarush/makemates-sub000/internal/config"
	"github.com/asyncarush/makemates-sub000/internal/fanout"
	"github.com/asyncarush/makemates-sub000/internal/httpserver"
	"github.com/asyncarush/makemates-sub000/internal/mqhandler"
	"github.com/asyncarush/makemates-sub000/internal/presence"
	"github.com/asyncarush/makemates-sub000/internal/realtime"
	"github.com/asyncarush/makemates-sub000/internal/repository"
	"github.com/asyncarush/makemates-sub000/pkg/db"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/mq"
	"github.com/asyncarush/makemates-sub000/pkg/outbox"
	redisclient "github.com/asyncarush/makemates-sub000/pkg/redis"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting realtime gateway...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Presence is wiped on start: no user survives a restart as online.
	presenceStore := presence.NewStore(rdb, log)
	if err := presenceStore.Reset(ctx); err != nil {
		log.Fatal("Failed to reset presence state", zap.Error(err))
	}

	registry := realtime.NewRegistry(presenceStore, log)
	reconcileInterval := time.Duration(cfg.Realtime.ReconcileIntervalSeconds) * time.Second
	go registry.StartReconciler(ctx, reconcileInterval)

	// Init repositories
	followerRepo := repository.NewFollowerRepository(dbConn)
	chatRepo := repository.NewChatRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// Init publisher and fanout queue
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	parker := fanout.NewOutboxParker(dbConn, outboxRepo)
	queue := fanout.NewQueue(followerRepo, publisher, parker, cfg.Fanout.BatchSize, log)

	// Replay jobs parked while the broker was unreachable.
	outboxDispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithMaxRetries(cfg.Worker.MaxRetries)
	go outboxDispatcher.Start(ctx)

	// Realtime dispatch and chat relay
	relay := realtime.NewRelay(registry, chatRepo, log)
	dispatcher := realtime.NewDispatcher(log)
	realtime.RegisterHandlers(dispatcher, registry, relay, log)

	// Consumer for live-push requests emitted by workers
	pushHandler := mqhandler.NewLivePushHandler(registry, log)
	pushConsumer, err := mq.NewConsumer(cfg.MQ.URL, "notification.push.q", mqcontracts.RouteNotificationPush, "gateway", log)
	if err != nil {
		log.Fatal("Failed to init live-push consumer", zap.Error(err))
	}
	pushConsumer.SetHandler(pushHandler.Handle)
	go func() {
		if err := pushConsumer.StartConsuming(); err != nil {
			log.Fatal("Live-push consumer failed", zap.Error(err))
		}
	}()
	defer pushConsumer.Close()

	// HTTP server: websocket endpoint, fanout entrypoint, admin surface, metrics
	wsHandler := httpserver.NewWSHandler(registry, dispatcher, log)
	fanoutHandler := httpserver.NewFanoutHandler(queue, cfg.Fanout.JobName, log)
	adminHandler := httpserver.NewAdminHandler(outboxRepo, notificationRepo, log)
	router := httpserver.NewRouter(wsHandler, fanoutHandler, adminHandler, cfg.JWT.Secret, publisher.IsConnected)

	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.Server.Port))
		if err := router.Run(cfg.Server.Port); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down realtime gateway")
}
