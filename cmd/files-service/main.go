package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/blob"
	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/cdc"
	"github.com/ddubbert/dd-services/internal/config"
	"github.com/ddubbert/dd-services/internal/files"
	"github.com/ddubbert/dd-services/internal/health"
	"github.com/ddubbert/dd-services/internal/store"
)

func main() {
	var cfg config.FilesService
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "files-service"
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, disconnect, err := store.Connect(ctx, cfg.URI, cfg.Database)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer disconnect(context.Background())
	col := db.Collection(cfg.Collection)
	fileStore := files.NewMongoStore(col)

	producer := bus.NewProducer(cfg.Brokers, logger)
	defer producer.Close()

	feed, err := store.WatchCollection(ctx, col)
	if err != nil {
		log.Fatalf("change feed: %v", err)
	}
	source := cdc.NewFileSource(fileStore, blob.NewDir(cfg.BlobDir), logger)
	adapter := cdc.NewAdapter(source, feed, producer, logger)

	registry := bus.NewRegistry()
	files.NewProcessors(fileStore, logger).Register(registry)
	consumer := bus.NewConsumer(cfg.Brokers, cfg.GroupID, registry, logger)

	hs := health.NewServer(logger)
	hs.Add("adapter", func() error {
		if adapter.State() == cdc.StateStopped {
			return errors.New("change feed stopped")
		}
		return nil
	})
	go func() {
		if err := hs.Start(cfg.HealthAddr); err != nil {
			logger.Errorf("health server: %v", err)
		}
	}()
	defer hs.Shutdown(context.Background())

	errCh := make(chan error, 2)
	go func() { errCh <- adapter.Run(ctx) }()
	go func() { errCh <- consumer.Run(ctx) }()

	if err := <-errCh; err != nil {
		log.Fatalf("files service: %v", err)
	}
	stop()
	<-errCh
}
