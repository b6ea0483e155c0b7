package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/messaging/kafka"
)

// Config описывает настройки запуска приложения.
// Значения читаются из окружения с префиксом BOOKSTORE_.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	// PostgresDSN пустой означает in-memory хранилище (dev/тесты).
	PostgresDSN string

	// KafkaBrokers пустой означает запуск без публикации событий.
	KafkaBrokers []string
	OrderTopic   string
	DLQTopic     string

	OutboxPollInterval    time.Duration
	OutboxBatchSize       int
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration

	LogLevel string
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		OrderTopic:            kafka.TopicOrderEvents,
		DLQTopic:              kafka.TopicDeadLetterQueue,
		OutboxPollInterval:    1 * time.Second,
		OutboxBatchSize:       100,
		OutboxRetention:       24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
		LogLevel:              "info",
	}
}

// LoadConfig собирает конфигурацию из переменных окружения поверх значений
// по умолчанию.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	cfg.GRPCAddr = envString("BOOKSTORE_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = envString("BOOKSTORE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.PostgresDSN = envString("BOOKSTORE_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.OrderTopic = envString("BOOKSTORE_ORDER_TOPIC", cfg.OrderTopic)
	cfg.DLQTopic = envString("BOOKSTORE_DLQ_TOPIC", cfg.DLQTopic)
	cfg.LogLevel = envString("BOOKSTORE_LOG_LEVEL", cfg.LogLevel)

	if brokers := envString("BOOKSTORE_KAFKA_BROKERS", ""); brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			broker = strings.TrimSpace(broker)
			if broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}

	var err error
	if cfg.OutboxPollInterval, err = envDuration("BOOKSTORE_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = envInt("BOOKSTORE_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetention, err = envDuration("BOOKSTORE_OUTBOX_RETENTION", cfg.OutboxRetention); err != nil {
		return Config{}, err
	}
	if cfg.OutboxCleanupInterval, err = envDuration("BOOKSTORE_OUTBOX_CLEANUP_INTERVAL", cfg.OutboxCleanupInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
