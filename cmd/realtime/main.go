package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/realtime-service/internal/api"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/call"
	cfgpkg "github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/conversation"
	"github.com/fathima-sithara/realtime-service/internal/delivery"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/room"
	"github.com/fathima-sithara/realtime-service/internal/ws"
	"github.com/fathima-sithara/realtime-service/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := cfgpkg.Load(os.Getenv("APP_CONFIG"))
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := logger.New(cfg.Development)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	metrics.Init()

	mc, err := repository.NewMongoClient(context.Background(), cfg.Mongo.URI)
	if err != nil {
		zl.Fatalw("mongo init failed", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	store := repository.NewMongoStore(mc.Database(cfg.Mongo.Database))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
	defer producer.Close()

	registry := presence.NewRegistry(presence.NewRedisMirror(rdb, cfg.Redis.Prefix), zl)
	rooms := room.NewMultiplexer(zl)
	locks := conversation.NewLockTable()
	state := conversation.NewStateMachine(store, rooms, producer, locks, cfg.MembershipLock, zl)
	deliverer := delivery.NewCoordinator(store, rooms, producer, locks, cfg.MembershipLock, zl)
	relay := call.NewRelay(store, rooms, registry, zl)

	validator := auth.NewValidator(cfg.JWT.Secret)
	gateway := ws.NewGateway(validator, store, registry, rooms, deliverer, relay, ws.Options{
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		ReadDeadline:  cfg.ReadDeadline,
		MaxMsgSize:    cfg.WS.MaxMessageBytes,
		SendBuffer:    cfg.WS.SendBuffer,
	}, zl)

	srv := api.NewServer(cfg, validator, state, deliverer, relay, gateway, zl)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		zl.Infow("realtime service starting", "addr", addr)
		errs <- srv.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zl.Fatalw("server error", "err", e)
	case s := <-sig:
		zl.Infow("signal received", "signal", s)
	}

	if err := srv.Shutdown(); err != nil {
		zl.Warnw("server shutdown", "err", err)
	}
	zl.Infow("realtime service stopped")
}
