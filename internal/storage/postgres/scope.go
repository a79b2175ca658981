package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

// txScope — domain.Scope поверх транзакции REPEATABLE READ.
type txScope struct {
	tx     *sql.Tx
	owner  *OrderRepository
	closed atomic.Bool
}

func (s *txScope) Commit() error {
	if !s.closed.CompareAndSwap(false, true) {
		return domain.ErrScopeClosed
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit scope: %w", classify(err))
	}
	return nil
}

func (s *txScope) Rollback() error {
	if !s.closed.CompareAndSwap(false, true) {
		return domain.ErrScopeClosed
	}
	// database/sql сам откатывает транзакцию при отмене контекста.
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback scope: %w", classify(err))
	}
	return nil
}

func (s *txScope) isClosed() bool {
	return s.closed.Load()
}

// Begin открывает транзакцию с изоляцией REPEATABLE READ: курсор видит один снимок.
func (r *OrderRepository) Begin(ctx context.Context) (domain.Scope, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin scope: %w", classify(err))
	}
	return &txScope{tx: tx, owner: r}, nil
}

func (r *OrderRepository) ownScope(sc domain.Scope) (*txScope, error) {
	own, ok := sc.(*txScope)
	if !ok || own == nil || own.owner != r {
		return nil, domain.ErrForeignScope
	}
	if own.isClosed() {
		return nil, domain.ErrScopeClosed
	}
	return own, nil
}
