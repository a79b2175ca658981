package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

const closeCursorTimeout = 2 * time.Second

var cursorSeq atomic.Uint64

func nextCursorName() string {
	return fmt.Sprintf("orders_cursor_%d", cursorSeq.Add(1))
}

// cursorIterator читает серверный курсор порциями по fetchSize строк.
type cursorIterator struct {
	scope     *txScope
	typeMap   *pgtype.Map
	name      string
	fetchSize int

	buf       []domain.Order
	pos       int
	exhausted bool

	cur    domain.Order
	err    error
	closed bool
}

func (it *cursorIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}

	if it.pos >= len(it.buf) {
		if it.exhausted {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
	}

	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

func (it *cursorIterator) fetch(ctx context.Context) error {
	if it.scope.isClosed() {
		return domain.ErrScopeClosed
	}

	rows, err := it.scope.tx.QueryContext(ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", it.fetchSize, it.name))
	if err != nil {
		return fmt.Errorf("fetch orders: %w", classify(err))
	}
	defer rows.Close()

	it.buf = it.buf[:0]
	it.pos = 0
	for rows.Next() {
		order, err := scanOrder(rows, it.typeMap)
		if err != nil {
			return err
		}
		it.buf = append(it.buf, order)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("fetch orders: %w", classify(err))
	}

	if len(it.buf) < it.fetchSize {
		it.exhausted = true
	}
	return nil
}

func (it *cursorIterator) Order() domain.Order { return it.cur }

func (it *cursorIterator) Err() error { return it.err }

// Close закрывает курсор, если транзакция ещё жива. Повторный вызов безопасен.
func (it *cursorIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.buf = nil

	if it.scope.isClosed() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeCursorTimeout)
	defer cancel()
	if _, err := it.scope.tx.ExecContext(ctx, "CLOSE "+it.name); err != nil {
		if errors.Is(err, sql.ErrTxDone) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("close cursor: %w", classify(err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner, typeMap *pgtype.Map) (domain.Order, error) {
	var (
		order        domain.Order
		date         time.Time
		descriptions []string
	)
	if err := row.Scan(&order.ID, &date, &order.Comment, typeMap.SQLScanner(&descriptions)); err != nil {
		return domain.Order{}, fmt.Errorf("scan order: %w", classify(err))
	}
	order.Date = domain.DateOf(date.UTC())
	if len(descriptions) > 0 {
		order.Deviations = make([]domain.Deviation, 0, len(descriptions))
		for _, d := range descriptions {
			order.Deviations = append(order.Deviations, domain.Deviation{Description: d})
		}
	}
	return order, nil
}
