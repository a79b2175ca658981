package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderstream/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
)

type options struct {
	action   string
	dsn      string
	user     string
	password string
	timeout  time.Duration
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&opts.action, "action", "apply", "schema action: apply|status")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: DATABASE_URL)")
	fs.StringVar(&opts.user, "user", "", "PostgreSQL user (fallback: DATABASE_USER)")
	fs.StringVar(&opts.password, "password", "", "PostgreSQL password (fallback: DATABASE_PASSWORD)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(opts.dsn) == "" {
		opts.dsn = strings.TrimSpace(getenv("DATABASE_URL"))
	}
	if opts.user == "" {
		opts.user = strings.TrimSpace(getenv("DATABASE_USER"))
	}
	if opts.password == "" {
		opts.password = getenv("DATABASE_PASSWORD")
	}
	opts.action = strings.ToLower(strings.TrimSpace(opts.action))

	switch {
	case opts.dsn == "":
		return options{}, errors.New("DATABASE_URL (or -dsn) is required")
	case opts.action != "apply" && opts.action != "status":
		return options{}, fmt.Errorf("unsupported action: %s (use apply|status)", opts.action)
	case opts.timeout <= 0:
		return options{}, errors.New("timeout must be > 0")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, postgres.Config{DSN: opts.dsn, User: opts.user, Password: opts.password})
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	if opts.action == "apply" {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply schema failed: %w", err)
		}
	}

	ready, err := store.SchemaReady(ctx)
	if err != nil {
		return fmt.Errorf("schema status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "schema %s ok: ready=%t\n", opts.action, ready)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
