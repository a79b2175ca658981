package app

import (
	"context"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

func TestInitStorage_Memory(t *testing.T) {
	t.Parallel()

	storage, err := initStorage(context.Background(), Config{StorageDriver: StorageDriverMemory}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initStorage(memory) failed: %v", err)
	}
	if storage.store == nil || storage.pinger == nil {
		t.Fatalf("memory storage must be initialized: %+v", storage)
	}
	if err := storage.pinger.Ping(context.Background()); err != nil {
		t.Fatalf("memory ping: %v", err)
	}
	if err := storage.close(); err != nil {
		t.Fatalf("memory close: %v", err)
	}
}

func TestInitStorage_EmptyDriverDefaultsToMemory(t *testing.T) {
	t.Parallel()

	storage, err := initStorage(context.Background(), Config{}, log.WithField("test", "default-storage"))
	if err != nil {
		t.Fatalf("initStorage(default) failed: %v", err)
	}
	if storage.store == nil {
		t.Fatal("store should not be nil")
	}
}

func TestInitStorage_Pebble(t *testing.T) {
	t.Parallel()

	cfg := Config{StorageDriver: "Pebble", PebbleDir: filepath.Join(t.TempDir(), "orders")}
	storage, err := initStorage(context.Background(), cfg, log.WithField("test", "pebble-storage"))
	if err != nil {
		t.Fatalf("initStorage(pebble) failed: %v", err)
	}
	defer func() { _ = storage.close() }()

	ctx := context.Background()
	id, err := storage.store.Add(ctx, domain.Order{Date: domain.NewDate(2024, 3, 1), Comment: "pebble"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := storage.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Comment != "pebble" {
		t.Fatalf("unexpected order %+v", got)
	}
	if err := storage.pinger.Ping(ctx); err != nil {
		t.Fatalf("pebble ping: %v", err)
	}
}

func TestInitStorage_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initStorage(context.Background(), Config{StorageDriver: StorageDriverPostgres}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitStorage_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initStorage(context.Background(), Config{StorageDriver: "sqlite"}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}
