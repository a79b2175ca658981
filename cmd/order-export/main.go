package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/app"
	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/service/orders"
	"github.com/vladislavdragonenkov/orderstream/internal/txscope"
)

const defaultGzipBlockSize = 1 << 20

type config struct {
	storage    app.Config
	from       domain.Date
	to         domain.Date
	outputPath string
	gzip       bool
	blockSize  int
	flushEvery int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseFlags(os.Args[1:], time.Now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithField("component", "order-export")
	n, err := run(ctx, cfg, os.Stdout, logger)
	if err != nil {
		logger.WithError(err).Fatal("выгрузка завершилась с ошибкой")
	}
	logger.WithFields(log.Fields{
		"orders": n,
		"from":   cfg.from.String(),
		"to":     cfg.to.String(),
		"output": outputName(cfg.outputPath),
	}).Info("выгрузка завершена")
}

func parseFlags(args []string, now func() time.Time) (config, error) {
	defaults := app.DefaultConfig()
	cfg := config{storage: defaults}
	today := domain.Today(now).String()

	var from, to string
	fs := flag.NewFlagSet("order-export", flag.ContinueOnError)
	fs.StringVar(&cfg.storage.StorageDriver, "driver", envOr("STORAGE_DRIVER", defaults.StorageDriver), "storage driver: memory|postgres|pebble")
	fs.StringVar(&cfg.storage.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN")
	fs.StringVar(&cfg.storage.DatabaseUser, "database-user", os.Getenv("DATABASE_USER"), "postgres user")
	fs.StringVar(&cfg.storage.DatabasePassword, "database-password", os.Getenv("DATABASE_PASSWORD"), "postgres password")
	fs.StringVar(&cfg.storage.PebbleDir, "pebble-dir", envOr("PEBBLE_DIR", defaults.PebbleDir), "pebble data directory")
	fs.IntVar(&cfg.storage.FetchSize, "fetch-size", defaults.FetchSize, "rows per cursor fetch")
	fs.StringVar(&from, "from", today, "first day of the range, YYYY-MM-DD")
	fs.StringVar(&to, "to", "", "last day of the range, YYYY-MM-DD (defaults to -from)")
	fs.StringVar(&cfg.outputPath, "out", "-", "output file, - for stdout")
	fs.BoolVar(&cfg.gzip, "gzip", false, "compress output with parallel gzip")
	fs.IntVar(&cfg.blockSize, "gzip-block", defaultGzipBlockSize, "parallel gzip block size in bytes")
	fs.IntVar(&cfg.flushEvery, "flush-every", 0, "flush output every N orders, 0 disables")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	var err error
	if cfg.from, err = domain.ParseDate(from); err != nil {
		return config{}, err
	}
	if to == "" {
		to = from
	}
	if cfg.to, err = domain.ParseDate(to); err != nil {
		return config{}, err
	}
	if cfg.blockSize <= 0 {
		return config{}, errors.New("gzip-block must be > 0")
	}
	if cfg.storage.FetchSize <= 0 {
		return config{}, errors.New("fetch-size must be > 0")
	}
	cfg.storage.DatabaseAutoSchema = false
	return cfg, nil
}

// run выгружает диапазон в файл или stdout. Файл неудачной выгрузки удаляется.
func run(ctx context.Context, cfg config, stdout io.Writer, logger *log.Entry) (n int, err error) {
	store, closeStore, err := app.OpenStore(ctx, cfg.storage, logger)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	out := stdout
	if cfg.outputPath != "" && cfg.outputPath != "-" {
		f, createErr := os.Create(cfg.outputPath)
		if createErr != nil {
			return 0, fmt.Errorf("create output: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output: %w", closeErr)
			}
			if err == nil {
				return
			}
			if rmErr := os.Remove(cfg.outputPath); rmErr != nil {
				logger.WithError(rmErr).WithField("path", cfg.outputPath).Warn("failed to remove partial output")
			}
		}()
		out = f
	}

	return export(ctx, store, out, cfg, logger)
}

// export пишет JSON-массив заказов диапазона в w, при необходимости через pgzip.
func export(ctx context.Context, store domain.OrderStore, w io.Writer, cfg config, logger *log.Entry) (int, error) {
	runner := txscope.NewRunner(store, nil, logger)
	svc := orders.NewService(store, runner, nil, logger, orders.WithFlushEvery(cfg.flushEvery))

	if !cfg.gzip {
		return svc.ExportRange(ctx, w, cfg.from, cfg.to)
	}

	zw := pgzip.NewWriter(w)
	if err := zw.SetConcurrency(cfg.blockSize, runtime.GOMAXPROCS(0)); err != nil {
		return 0, fmt.Errorf("configure gzip: %w", err)
	}
	n, err := svc.ExportRange(ctx, zw, cfg.from, cfg.to)
	if closeErr := zw.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close gzip: %w", domain.ErrSerialization, closeErr)
	}
	return n, err
}

func outputName(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
