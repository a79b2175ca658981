package main

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/storage/memory"
)

func fixedNow() time.Time { return time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC) }

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags([]string{"-driver", "memory"}, fixedNow)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.count != 1000 || cfg.days != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.from.String() != "2024-05-10" {
		t.Fatalf("expected today, got %s", cfg.from)
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	cases := [][]string{
		{"-count", "0"},
		{"-days", "-3"},
		{"-deviation-rate", "1.5"},
		{"-from", "10.05.2024"},
	}
	for _, args := range cases {
		if _, err := parseFlags(args, fixedNow); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestSeed_InsertsWithinWindow(t *testing.T) {
	store := memory.NewOrderStore()
	cfg := config{count: 50, from: domain.NewDate(2024, time.March, 1), days: 7, deviationRate: 0.5, seed: 42}

	n, err := seed(context.Background(), store, cfg, log.WithField("test", "seed"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 50 || store.Len() != 50 {
		t.Fatalf("expected 50 orders, got n=%d len=%d", n, store.Len())
	}

	orders, err := store.ListRange(context.Background(), domain.DateRange{From: cfg.from, To: cfg.from.AddDays(6)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 50 {
		t.Fatalf("all orders must fall into the window, got %d", len(orders))
	}
	withDeviations := 0
	for _, o := range orders {
		if len(o.Deviations) > 0 {
			withDeviations++
		}
	}
	if withDeviations == 0 || withDeviations == 50 {
		t.Fatalf("expected a mix of orders with and without deviations, got %d", withDeviations)
	}
	if store.OpenScopes() != 0 {
		t.Fatalf("scope leaked: %d open", store.OpenScopes())
	}
}

func TestSeed_CanceledRollsBack(t *testing.T) {
	store := memory.NewOrderStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config{count: 10, from: domain.NewDate(2024, time.March, 1), days: 1, seed: 1}
	_, err := seed(ctx, store, cfg, log.WithField("test", "seed"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected nothing committed, got %d", store.Len())
	}
}

func TestSyntheticOrder_Deterministic(t *testing.T) {
	cfg := config{from: domain.NewDate(2024, time.March, 1), days: 30, deviationRate: 1, seed: 7}

	storeA := memory.NewOrderStore()
	storeB := memory.NewOrderStore()
	for _, store := range []*memory.OrderStore{storeA, storeB} {
		c := cfg
		c.count = 5
		if _, err := seed(context.Background(), store, c, log.WithField("test", "seed")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	r := domain.DateRange{From: cfg.from, To: cfg.from.AddDays(29)}
	a, _ := storeA.ListRange(context.Background(), r)
	b, _ := storeB.ListRange(context.Background(), r)
	if len(a) != len(b) {
		t.Fatalf("length mismatch %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Date.Equal(b[i].Date) || a[i].Comment != b[i].Comment || len(a[i].Deviations) != len(b[i].Deviations) {
			t.Fatalf("order %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
