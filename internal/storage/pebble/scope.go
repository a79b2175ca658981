package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

type pendingOrder struct {
	key []byte
	rec record
}

type scope struct {
	store    *Store
	snapshot *pebble.Snapshot
	batch    *pebble.Batch

	mu      sync.Mutex
	pending []pendingOrder
	closed  bool
}

func (s *scope) Commit() error {
	if !s.finish() {
		return domain.ErrScopeClosed
	}
	defer s.release()

	if err := s.store.commit(s.batch); err != nil {
		return fmt.Errorf("commit scope: %w", classify(err))
	}
	return nil
}

func (s *scope) Rollback() error {
	if !s.finish() {
		return domain.ErrScopeClosed
	}
	s.release()
	return nil
}

func (s *scope) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *scope) release() {
	_ = s.batch.Close()
	_ = s.snapshot.Close()
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *scope) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scope) add(rec record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrScopeClosed
	}

	idx := indexKey(rec.order.Date, rec.seq)
	if err := s.batch.Set(orderKey(rec.order.ID), encodeRecord(rec), nil); err != nil {
		return fmt.Errorf("stage order: %w", err)
	}
	if err := s.batch.Set(idx, []byte(rec.order.ID), nil); err != nil {
		return fmt.Errorf("stage order index: %w", err)
	}
	s.pending = append(s.pending, pendingOrder{key: idx, rec: rec})
	return nil
}

func (s *scope) newRangeIterator(r domain.DateRange) (*rangeIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrScopeClosed
	}

	it := &rangeIterator{scope: s}
	if r.Reversed() {
		return it, nil
	}

	lower := indexDayPrefix(r.From)
	upper := indexDayPrefix(r.To.AddDays(1))

	iter, err := s.snapshot.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("open index iterator: %w", classify(err))
	}
	it.iter = iter

	for _, p := range s.pending {
		if bytes.Compare(p.key, lower) >= 0 && bytes.Compare(p.key, upper) < 0 {
			it.pending = append(it.pending, p)
		}
	}
	sort.Slice(it.pending, func(i, j int) bool {
		return bytes.Compare(it.pending[i].key, it.pending[j].key) < 0
	})
	return it, nil
}

// rangeIterator сливает индекс снимка и незафиксированные записи scope
// в порядке ключей индекса.
type rangeIterator struct {
	scope   *scope
	iter    *pebble.Iterator
	started bool
	valid   bool

	pending []pendingOrder
	pi      int

	cur    domain.Order
	err    error
	closed bool
}

func (it *rangeIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.scope.isClosed() {
		it.err = domain.ErrScopeClosed
		return false
	}
	if it.iter == nil {
		return false
	}

	if !it.started {
		it.started = true
		it.valid = it.iter.First()
	}

	takeSnapshot := it.valid && (it.pi >= len(it.pending) || bytes.Compare(it.iter.Key(), it.pending[it.pi].key) < 0)
	switch {
	case takeSnapshot:
		id := string(it.iter.Value())
		order, err := it.loadCommitted(id)
		if err != nil {
			it.err = err
			return false
		}
		it.cur = order
		it.valid = it.iter.Next()
		return true
	case it.pi < len(it.pending):
		it.cur = it.pending[it.pi].rec.order.Clone()
		it.pi++
		return true
	default:
		if err := it.iter.Error(); err != nil {
			it.err = fmt.Errorf("iterate order index: %w", classify(err))
		}
		return false
	}
}

func (it *rangeIterator) loadCommitted(id string) (domain.Order, error) {
	value, closer, err := it.scope.snapshot.Get(orderKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("index points to missing order %s: %w", id, domain.ErrOrderNotFound)
		}
		return domain.Order{}, fmt.Errorf("load order: %w", classify(err))
	}
	defer closer.Close()

	rec, err := decodeRecord(value)
	if err != nil {
		return domain.Order{}, err
	}
	return rec.order, nil
}

func (it *rangeIterator) Order() domain.Order { return it.cur }

func (it *rangeIterator) Err() error { return it.err }

func (it *rangeIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.pending = nil
	if it.iter == nil {
		return nil
	}
	return it.iter.Close()
}
