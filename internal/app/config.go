package app

import (
	"time"

	"github.com/vladislavdragonenkov/orderstream/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderstream/internal/storage/postgres"
)

// Поддерживаемые драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverPebble   = "pebble"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver      string
	DatabaseURL        string
	DatabaseUser       string
	DatabasePassword   string
	DatabaseAutoSchema bool
	PebbleDir          string
	FetchSize          int

	// FlushEvery — через сколько заказов выгрузка сбрасывает ответ клиенту.
	FlushEvery int

	// StreamTimeout ограничивает одну выгрузку /order/list. 0 — без ограничения.
	StreamTimeout   time.Duration
	ShutdownTimeout time.Duration

	// KafkaBrokers пустой — события не публикуются.
	KafkaBrokers []string
	KafkaTopic   string

	LogLevel string
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:           ":5000",
		MetricsAddr:        ":9090",
		StorageDriver:      StorageDriverMemory,
		DatabaseAutoSchema: true,
		PebbleDir:          "./data/orders",
		FetchSize:          postgres.DefaultFetchSize,
		FlushEvery:         postgres.DefaultFetchSize,
		StreamTimeout:      5 * time.Minute,
		ShutdownTimeout:    5 * time.Second,
		KafkaTopic:         kafka.DefaultTopic,
		LogLevel:           "info",
	}
}
