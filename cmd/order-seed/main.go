package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/app"
	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/metrics"
	"github.com/vladislavdragonenkov/orderstream/internal/txscope"
)

var deviationTexts = []string{
	"delivered late",
	"missing item",
	"wrong address",
	"damaged package",
	"customer unreachable",
}

type config struct {
	storage       app.Config
	count         int
	from          domain.Date
	days          int
	deviationRate float64
	seed          uint64
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

	logger := log.WithField("component", "order-seed")
	store, closeStore, err := app.OpenStore(ctx, cfg.storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("не удалось открыть хранилище")
	}

	started := time.Now()
	inserted, err := seed(ctx, store, cfg, logger)
	if closeErr := closeStore(); closeErr != nil {
		logger.WithError(closeErr).Warn("failed to close storage")
	}
	if err != nil {
		logger.WithError(err).Fatal("заполнение прервано, изменения откатены")
	}

	logger.WithFields(log.Fields{
		"orders":   inserted,
		"from":     cfg.from.String(),
		"to":       cfg.from.AddDays(cfg.days - 1).String(),
		"duration": time.Since(started).String(),
	}).Info("заказы добавлены")
}

func parseFlags(args []string, now func() time.Time) (config, error) {
	defaults := app.DefaultConfig()
	cfg := config{storage: defaults}

	var from string
	fs := flag.NewFlagSet("order-seed", flag.ContinueOnError)
	fs.StringVar(&cfg.storage.StorageDriver, "driver", envOr("STORAGE_DRIVER", app.StorageDriverPostgres), "storage driver: postgres|pebble|memory")
	fs.StringVar(&cfg.storage.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN")
	fs.StringVar(&cfg.storage.DatabaseUser, "database-user", os.Getenv("DATABASE_USER"), "postgres user")
	fs.StringVar(&cfg.storage.DatabasePassword, "database-password", os.Getenv("DATABASE_PASSWORD"), "postgres password")
	fs.BoolVar(&cfg.storage.DatabaseAutoSchema, "auto-schema", true, "create schema if missing")
	fs.StringVar(&cfg.storage.PebbleDir, "pebble-dir", envOr("PEBBLE_DIR", defaults.PebbleDir), "pebble data directory")
	fs.IntVar(&cfg.count, "count", 1000, "number of orders to insert")
	fs.StringVar(&from, "from", domain.Today(now).String(), "first day of the window, YYYY-MM-DD")
	fs.IntVar(&cfg.days, "days", 1, "window length in days")
	fs.Float64Var(&cfg.deviationRate, "deviation-rate", 0.3, "share of orders with deviations, 0..1")
	fs.Uint64Var(&cfg.seed, "seed", uint64(now().UnixNano()), "random seed")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	var err error
	if cfg.from, err = domain.ParseDate(from); err != nil {
		return config{}, err
	}
	switch {
	case cfg.count <= 0:
		return config{}, errors.New("count must be > 0")
	case cfg.days <= 0:
		return config{}, errors.New("days must be > 0")
	case cfg.deviationRate < 0 || cfg.deviationRate > 1:
		return config{}, errors.New("deviation-rate must be in [0, 1]")
	}
	return cfg, nil
}

// seed добавляет count заказов в одном scope: либо все, либо ни одного.
func seed(ctx context.Context, store domain.OrderStore, cfg config, logger *log.Entry) (int, error) {
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	runner := txscope.NewRunner(store, metrics.NewOrderMetrics(), logger)

	inserted := 0
	err := runner.Run(ctx, func(ctx context.Context, scope domain.Scope) error {
		for i := 0; i < cfg.count; i++ {
			order := syntheticOrder(rng, cfg, i)
			if _, err := store.AddInScope(ctx, scope, order); err != nil {
				return fmt.Errorf("add order %d: %w", i, err)
			}
			inserted++
			if inserted%10000 == 0 {
				logger.WithField("orders", inserted).Debug("добавлено")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func syntheticOrder(rng *rand.Rand, cfg config, i int) domain.Order {
	order := domain.Order{
		Date:    cfg.from.AddDays(rng.IntN(cfg.days)),
		Comment: fmt.Sprintf("seed order #%d", i+1),
	}
	if rng.Float64() < cfg.deviationRate {
		n := 1 + rng.IntN(3)
		for j := 0; j < n; j++ {
			order.Deviations = append(order.Deviations, domain.Deviation{
				Description: deviationTexts[rng.IntN(len(deviationTexts))],
			})
		}
	}
	return order
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
