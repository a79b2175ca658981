package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	// DefaultFetchSize — сколько строк курсор запрашивает за один FETCH.
	DefaultFetchSize = 30

	schemaLockKey int64 = 0x6f72646572730001
)

//go:embed schema.sql
var schemaSQL string

// Config описывает подключение к PostgreSQL.
type Config struct {
	// DSN в формате postgres:// или key=value. Префикс jdbc: допускается и отбрасывается.
	DSN string
	// User и Password переопределяют значения из DSN, если заданы.
	User     string
	Password string

	MaxOpenConns int
	FetchSize    int
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db        *sql.DB
	fetchSize int
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
// Каждое соединение работает в часовом поясе UTC.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	connCfg, err := pgx.ParseConfig(normalizeDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.User != "" {
		connCfg.User = cfg.User
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}
	connCfg.RuntimeParams["timezone"] = "UTC"

	db := stdlib.OpenDB(*connCfg)

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(maxOpen, defaultMaxIdleConns))
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", classify(err))
	}

	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	return &Store{db: db, fetchSize: fetchSize}, nil
}

func normalizeDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	return strings.TrimPrefix(dsn, "jdbc:")
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// FetchSize возвращает размер порции курсора.
func (s *Store) FetchSize() int {
	return s.fetchSize
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return classify(s.db.PingContext(pingCtx))
}

// EnsureSchema создаёт таблицы заказов, если их ещё нет.
// Параллельные запуски сериализуются advisory lock.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire schema connection: %w", classify(err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", classify(err))
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	return nil
}

// SchemaReady сообщает, созданы ли таблицы заказов.
func (s *Store) SchemaReady(ctx context.Context) (bool, error) {
	var ready bool
	err := s.db.QueryRowContext(ctx,
		"SELECT to_regclass('orders') IS NOT NULL AND to_regclass('order_deviations') IS NOT NULL",
	).Scan(&ready)
	if err != nil {
		return false, fmt.Errorf("check schema: %w", classify(err))
	}
	return ready, nil
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
