package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/config"
	"github.com/ddubbert/dd-services/internal/domain"
)

func main() {
	var cfg config.StorageInit
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Info("storage init starting")

	ctx := context.Background()

	if err := createTopics(ctx, cfg); err != nil {
		log.Fatalf("create topics: %v", err)
	}
	if err := createMembershipTable(ctx, cfg); err != nil {
		log.Fatalf("create membership table: %v", err)
	}

	log.Info("storage init complete")
}

func createTopics(ctx context.Context, cfg config.StorageInit) error {
	client := &kafka.Client{Addr: kafka.TCP(cfg.Brokers...)}
	topics := []string{domain.TopicUsers, domain.TopicSessions, domain.TopicFiles}
	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.TopicPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}
	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: configs})
	if err != nil {
		return err
	}
	for topic, err := range resp.Errors {
		if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return err
		}
		log.WithField("topic", topic).Debug("topic ready")
	}
	return nil
}

func createMembershipTable(ctx context.Context, cfg config.StorageInit) error {
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(cfg.Table).CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
	}
	return err
}
