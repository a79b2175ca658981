package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

// scope — снимок зафиксированных данных плюс собственные незафиксированные записи.
type scope struct {
	store    *OrderStore
	snapshot uint64

	mu      sync.Mutex
	pending []storedOrder
	closed  bool
}

func (s *scope) Commit() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrScopeClosed
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.store.commit(pending)
	s.store.release()
	return nil
}

func (s *scope) Rollback() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrScopeClosed
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.store.release()
	return nil
}

func (s *scope) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scope) addPending(stored storedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrScopeClosed
	}
	s.pending = append(s.pending, stored)
	return nil
}

func (s *scope) pendingSnapshot() ([]storedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrScopeClosed
	}
	out := make([]storedOrder, len(s.pending))
	copy(out, s.pending)
	return out, nil
}

// orderIterator отдаёт копии заказов по одному и перестаёт работать после закрытия scope,
// как курсор закрытой транзакции.
type orderIterator struct {
	scope  *scope
	items  []storedOrder
	pos    int
	cur    domain.Order
	err    error
	closed bool
}

func (it *orderIterator) Next(ctx context.Context) bool {
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
	if it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos].order.Clone()
	it.pos++
	return true
}

func (it *orderIterator) Order() domain.Order { return it.cur }

func (it *orderIterator) Err() error { return it.err }

func (it *orderIterator) Close() error {
	it.closed = true
	it.items = nil
	return nil
}
