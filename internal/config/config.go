// Package config loads each binary's configuration from the environment.
// Missing required values fail at startup, never at first use.
package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// Runtime is shared by every binary.
type Runtime struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	HealthAddr string `env:"HEALTH_ADDR" envDefault:":8080"`
}

// Kafka names the bus endpoints. GroupID defaults to the binary's name when
// left empty; each main fills it in.
type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID string   `env:"KAFKA_GROUP_ID"`
}

// Mongo locates a service's own collection.
type Mongo struct {
	URI        string `env:"MONGO_URI,required"`
	Database   string `env:"MONGO_DATABASE,required"`
	Collection string `env:"MONGO_COLLECTION,required"`
}

// Redis holds the notification and cache backend connection.
type Redis struct {
	ConnectionString string `env:"REDIS_CONNECTION_STRING,required"`
}

// Membership locates the membership index table and its cache policy.
type Membership struct {
	ConnectionString string        `env:"STORAGE_CONNECTION_STRING,required"`
	Table            string        `env:"MEMBERSHIP_TABLE" envDefault:"membership"`
	CacheTTL         time.Duration `env:"MEMBERSHIP_CACHE_TTL" envDefault:"12h"`
}

// UsersService configures cmd/users-service.
type UsersService struct {
	Runtime
	Kafka
	Mongo
}

// SessionsService configures cmd/sessions-service.
type SessionsService struct {
	Runtime
	Kafka
	Mongo
}

// FilesService configures cmd/files-service.
type FilesService struct {
	Runtime
	Kafka
	Mongo
	BlobDir string `env:"BLOB_DIR,required"`
}

// SubscriptionsService configures cmd/subscriptions-service.
type SubscriptionsService struct {
	Runtime
	Kafka
	Redis
	Membership
	// StreamAddr serves the subscription stream endpoints.
	StreamAddr string `env:"STREAM_ADDR" envDefault:":9000"`
}

// StorageInit configures cmd/storage-init.
type StorageInit struct {
	Kafka
	Membership
	TopicPartitions   int `env:"TOPIC_PARTITIONS" envDefault:"1"`
	ReplicationFactor int `env:"TOPIC_REPLICATION_FACTOR" envDefault:"1"`
}

// Load fills target from the environment.
func Load(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// RedisOptions parses a redis URL, falling back to the comma-separated
// "host:port,password=...,ssl=true" connection string form.
func RedisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
