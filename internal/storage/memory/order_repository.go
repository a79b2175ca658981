package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

type storedOrder struct {
	order domain.Order
	// seq — порядок вставки, version — номер коммита, после которого запись видна.
	seq     uint64
	version uint64
}

// OrderStore — in-memory реализация domain.OrderStore для локальной разработки и тестов.
type OrderStore struct {
	mu      sync.RWMutex
	items   map[string]storedOrder
	seq     uint64
	version uint64

	scopesMu   sync.Mutex
	openScopes int
}

// NewOrderStore возвращает пустое in-memory хранилище.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		items: make(map[string]storedOrder),
	}
}

// Begin открывает scope со снимком зафиксированных данных.
func (s *OrderStore) Begin(ctx context.Context) (domain.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snapshot := s.version
	s.mu.RUnlock()

	s.scopesMu.Lock()
	s.openScopes++
	s.scopesMu.Unlock()

	return &scope{store: s, snapshot: snapshot}, nil
}

// OpenScopes возвращает число незакрытых scope. Используется в тестах на утечки.
func (s *OrderStore) OpenScopes() int {
	s.scopesMu.Lock()
	defer s.scopesMu.Unlock()
	return s.openScopes
}

// Len возвращает число зафиксированных заказов.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get возвращает копию заказа или ErrOrderNotFound.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return stored.order.Clone(), nil
}

// Add сохраняет заказ в отдельном scope.
func (s *OrderStore) Add(ctx context.Context, order domain.Order) (string, error) {
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

// AddInScope кладёт заказ в незафиксированные записи scope.
func (s *OrderStore) AddInScope(ctx context.Context, sc domain.Scope, order domain.Order) (string, error) {
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

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if err := own.addPending(storedOrder{order: order, seq: seq}); err != nil {
		return "", err
	}
	return order.ID, nil
}

// StreamRange возвращает ленивый итератор по заказам диапазона, видимым в scope.
func (s *OrderStore) StreamRange(ctx context.Context, sc domain.Scope, r domain.DateRange) (domain.OrderIterator, error) {
	own, err := s.ownScope(sc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pending, err := own.pendingSnapshot()
	if err != nil {
		return nil, err
	}

	matches := make([]storedOrder, 0)
	s.mu.RLock()
	for _, stored := range s.items {
		if stored.version <= own.snapshot && r.Contains(stored.order.Date) {
			matches = append(matches, stored)
		}
	}
	s.mu.RUnlock()
	for _, stored := range pending {
		if r.Contains(stored.order.Date) {
			matches = append(matches, stored)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.order.Date.Equal(b.order.Date) {
			return a.order.Date.Before(b.order.Date)
		}
		return a.seq < b.seq
	})

	return &orderIterator{scope: own, items: matches}, nil
}

// ListRange читает диапазон целиком в собственном scope.
func (s *OrderStore) ListRange(ctx context.Context, r domain.DateRange) ([]domain.Order, error) {
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
		return nil, fmt.Errorf("drain order range: %w", err)
	}
	return orders, nil
}

func (s *OrderStore) ownScope(sc domain.Scope) (*scope, error) {
	own, ok := sc.(*scope)
	if !ok || own == nil || own.store != s {
		return nil, domain.ErrForeignScope
	}
	return own, nil
}

func (s *OrderStore) commit(pending []storedOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	s.version++
	for _, stored := range pending {
		stored.version = s.version
		s.items[stored.order.ID] = stored
	}
}

func (s *OrderStore) release() {
	s.scopesMu.Lock()
	s.openScopes--
	s.scopesMu.Unlock()
}

var _ domain.OrderStore = (*OrderStore)(nil)
