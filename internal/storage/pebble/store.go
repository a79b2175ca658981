// Package pebblestore — встраиваемое хранилище заказов на cockroachdb/pebble.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

// Store — domain.OrderStore поверх локальной базы pebble.
type Store struct {
	db  *pebble.DB
	seq atomic.Uint64

	// commitMu упорядочивает коммиты, чтобы meta/seq не откатывался назад.
	commitMu sync.Mutex
}

// Open открывает (или создаёт) базу в каталоге dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}

	s := &Store{db: db}
	value, closer, err := db.Get(seqKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	default:
		seq, decodeErr := decodeSeq(value)
		_ = closer.Close()
		if decodeErr != nil {
			_ = db.Close()
			return nil, decodeErr
		}
		s.seq.Store(seq)
	}
	return s, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping проверяет, что база открыта и читается.
func (s *Store) Ping(context.Context) error {
	_, closer, err := s.db.Get(seqKey)
	if err == nil {
		return closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return classify(err)
}

// Begin открывает scope: снимок базы плюс собственная пачка записей.
func (s *Store) Begin(ctx context.Context) (domain.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scope{
		store:    s,
		snapshot: s.db.NewSnapshot(),
		batch:    s.db.NewBatch(),
	}, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	value, closer, err := s.db.Get(orderKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", classify(err))
	}
	defer closer.Close()

	rec, err := decodeRecord(value)
	if err != nil {
		return domain.Order{}, err
	}
	return rec.order, nil
}

func (s *Store) Add(ctx context.Context, order domain.Order) (string, error) {
	sc, err := s.Begin(ctx)
	if err != nil {
		return "", err
	}

	id, err := s.AddInScope(ctx, sc, order)
	if err != nil {
		_ = sc.Rollback()
		return "", err
	}
	if err := sc.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) AddInScope(ctx context.Context, sc domain.Scope, order domain.Order) (string, error) {
	own, err := s.ownScope(sc)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := order.Validate(); err != nil {
		return "", err
	}

	order = order.Clone()
	order.ID = uuid.NewString()
	rec := record{order: order, seq: s.seq.Add(1)}

	if err := own.add(rec); err != nil {
		return "", err
	}
	return order.ID, nil
}

// StreamRange возвращает итератор по индексу дат снимка, слитый с записями scope.
func (s *Store) StreamRange(ctx context.Context, sc domain.Scope, r domain.DateRange) (domain.OrderIterator, error) {
	own, err := s.ownScope(sc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return own.newRangeIterator(r)
}

func (s *Store) ListRange(ctx context.Context, r domain.DateRange) ([]domain.Order, error) {
	sc, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sc.Rollback() }()

	it, err := s.StreamRange(ctx, sc, r)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	orders := make([]domain.Order, 0)
	for it.Next(ctx) {
		orders = append(orders, it.Order())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) ownScope(sc domain.Scope) (*scope, error) {
	own, ok := sc.(*scope)
	if !ok || own == nil || own.store != s {
		return nil, domain.ErrForeignScope
	}
	return own, nil
}

func (s *Store) commit(batch *pebble.Batch) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := batch.Set(seqKey, encodeSeq(s.seq.Load()), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func classify(err error) error {
	if errors.Is(err, pebble.ErrClosed) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

var _ domain.OrderStore = (*Store)(nil)
