package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/config"
	"github.com/ddubbert/dd-services/internal/fanout"
	"github.com/ddubbert/dd-services/internal/health"
	"github.com/ddubbert/dd-services/internal/membership"
)

func main() {
	var cfg config.SubscriptionsService
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "subscriptions-service"
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(config.RedisOptions(cfg.Redis.ConnectionString))
	defer rc.Close()

	table, err := membership.NewTableStore(cfg.Membership.ConnectionString, cfg.Table)
	if err != nil {
		log.Fatalf("membership table: %v", err)
	}
	index := membership.NewCachedStore(table, rc, cfg.CacheTTL, logger)

	registry := bus.NewRegistry()
	fanout.NewEngine(index, fanout.NewRedisNotifier(rc)).Register(registry)
	consumer := bus.NewConsumer(cfg.Brokers, cfg.GroupID, registry, logger)

	subscriber := fanout.NewSubscriber(index, rc, logger)
	streams := fanout.NewServer(subscriber, logger)
	go func() {
		if err := streams.Start(cfg.StreamAddr); err != nil {
			logger.Errorf("stream server: %v", err)
		}
	}()
	defer streams.Shutdown(context.Background())

	hs := health.NewServer(logger)
	hs.Add("redis", func() error {
		return rc.Ping(context.Background()).Err()
	})
	go func() {
		if err := hs.Start(cfg.HealthAddr); err != nil {
			logger.Errorf("health server: %v", err)
		}
	}()
	defer hs.Shutdown(context.Background())

	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("subscriptions service: %v", err)
	}
}
