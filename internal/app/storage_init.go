package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderstream/internal/health"
	"github.com/vladislavdragonenkov/orderstream/internal/storage/memory"
	pebblestore "github.com/vladislavdragonenkov/orderstream/internal/storage/pebble"
	"github.com/vladislavdragonenkov/orderstream/internal/storage/postgres"
)

type runtimeStorage struct {
	store   domain.OrderStore
	pinger  healthcheck.Pinger
	closeFn func() error
}

func (s runtimeStorage) close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

type alwaysUp struct{}

func (alwaysUp) Ping(context.Context) error { return nil }

// initStorage открывает хранилище заказов выбранного драйвера.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (runtimeStorage, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("используем in-memory хранилище заказов")
		return runtimeStorage{store: memory.NewOrderStore(), pinger: alwaysUp{}}, nil

	case StorageDriverPostgres:
		if cfg.DatabaseURL == "" {
			return runtimeStorage{}, fmt.Errorf("postgres storage requires DATABASE_URL")
		}
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:       cfg.DatabaseURL,
			User:      cfg.DatabaseUser,
			Password:  cfg.DatabasePassword,
			FetchSize: cfg.FetchSize,
		})
		if err != nil {
			return runtimeStorage{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.DatabaseAutoSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeStorage{}, fmt.Errorf("ensure postgres schema: %w", err)
			}
		}
		logger.WithField("fetch_size", store.FetchSize()).Info("postgres хранилище подключено")
		return runtimeStorage{
			store:   postgres.NewOrderRepository(store),
			pinger:  store,
			closeFn: store.Close,
		}, nil

	case StorageDriverPebble:
		store, err := pebblestore.Open(cfg.PebbleDir)
		if err != nil {
			return runtimeStorage{}, fmt.Errorf("open pebble: %w", err)
		}
		logger.WithField("dir", cfg.PebbleDir).Info("pebble хранилище открыто")
		return runtimeStorage{store: store, pinger: store, closeFn: store.Close}, nil

	default:
		return runtimeStorage{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// OpenStore открывает хранилище заказов для утилит командной строки.
// Возвращённую функцию закрытия нужно вызвать по завершении работы.
func OpenStore(ctx context.Context, cfg Config, logger *log.Entry) (domain.OrderStore, func() error, error) {
	if logger == nil {
		logger = log.WithField("component", "storage")
	}
	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage.store, storage.close, nil
}
