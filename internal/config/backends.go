package config

import (
	"github.com/turtacn/LeafSight/internal/infrastructure/database/postgres"
	"github.com/turtacn/LeafSight/internal/infrastructure/database/redis"
	"github.com/turtacn/LeafSight/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LeafSight/internal/infrastructure/storage/minio"
)

// ─────────────────────────────────────────────────────────────────────────────
// Backend connection parameters
// ─────────────────────────────────────────────────────────────────────────────

// Connection converts to the Redis client parameters.
func (r RedisConfig) Connection() redis.RedisConfig {
	return redis.RedisConfig{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

// Connection converts to the MinIO client parameters.
func (m MinIOConfig) Connection() minio.MinIOConfig {
	return minio.MinIOConfig{
		Endpoint:      m.Endpoint,
		AccessKey:     m.AccessKey,
		SecretKey:     m.SecretKey,
		UseSSL:        m.UseSSL,
		Region:        m.Region,
		Bucket:        m.Bucket,
		PresignExpiry: m.PresignExpiry,
	}
}

// Connection converts to the PostgreSQL pool parameters.
func (p PostgresConfig) Connection() postgres.PostgresConfig {
	return postgres.PostgresConfig{
		Host:            p.Host,
		Port:            p.Port,
		Database:        p.DBName,
		Username:        p.User,
		Password:        p.Password,
		SSLMode:         p.SSLMode,
		MaxOpenConns:    p.MaxConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		ConnMaxIdleTime: p.ConnMaxIdleTime,
	}
}

// Topics resolves the deployment's topic names.
func (k KafkaConfig) Topics() kafka.Topics { return kafka.NewTopics(k.TopicPrefix) }

// Producer converts to the producer parameters.
func (k KafkaConfig) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      k.Brokers,
		MaxRetries:   k.ProducerRetries,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
	}
}

// WorkerConsumer builds the consumer of diagnosis requests, retrying
// failures per the worker settings before dead-lettering them.
func (c *Config) WorkerConsumer() kafka.ConsumerConfig {
	topics := c.Kafka.Topics()
	return kafka.ConsumerConfig{
		Brokers:         c.Kafka.Brokers,
		GroupID:         c.Kafka.GroupID,
		Topics:          []string{topics.Requested},
		AutoOffsetReset: c.Kafka.AutoOffsetReset,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      c.Worker.MaxRetries,
			RetryBackoff:    c.Worker.RetryBackoff,
			DeadLetterTopic: topics.DeadLetter,
		},
	}
}
