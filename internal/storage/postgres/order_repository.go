package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

const selectOrderColumns = `
	SELECT o.id::text, o.order_date, o.comment,
		ARRAY(
			SELECT d.description
			FROM order_deviations d
			WHERE d.order_id = o.id
			ORDER BY d.position
		) AS deviations
	FROM orders o`

// OrderRepository — PostgreSQL-реализация domain.OrderStore.
// pgtype.Map не потокобезопасен, поэтому каждый запрос и курсор получают свой.
type OrderRepository struct {
	db        *sql.DB
	fetchSize int
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderStore.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{
		db:        store.DB(),
		fetchSize: store.FetchSize(),
	}
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	row := r.db.QueryRowContext(ctx, selectOrderColumns+` WHERE o.id = $1`, id)
	order, err := scanOrder(row, pgtype.NewMap())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) Add(ctx context.Context, order domain.Order) (id string, err error) {
	sc, err := r.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = sc.Rollback()
		}
	}()

	id, err = r.AddInScope(ctx, sc, order)
	if err != nil {
		return "", err
	}
	if err = sc.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (r *OrderRepository) AddInScope(ctx context.Context, sc domain.Scope, order domain.Order) (string, error) {
	own, err := r.ownScope(sc)
	if err != nil {
		return "", err
	}
	if err := order.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if _, err := own.tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_date, comment)
		VALUES ($1, $2, $3)
	`, id, order.Date.Time(), order.Comment); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("insert order: duplicate id %s: %w", id, err)
		}
		return "", fmt.Errorf("insert order: %w", classify(err))
	}

	for i, deviation := range order.Deviations {
		if _, err := own.tx.ExecContext(ctx, `
			INSERT INTO order_deviations (order_id, position, description)
			VALUES ($1, $2, $3)
		`, id, i, deviation.Description); err != nil {
			return "", fmt.Errorf("insert order deviation: %w", classify(err))
		}
	}

	return id, nil
}

// StreamRange объявляет серверный курсор в транзакции scope. Строки не читаются,
// пока вызывающий не вызовет Next.
func (r *OrderRepository) StreamRange(ctx context.Context, sc domain.Scope, dr domain.DateRange) (domain.OrderIterator, error) {
	own, err := r.ownScope(sc)
	if err != nil {
		return nil, err
	}

	name := nextCursorName()
	query := fmt.Sprintf(`DECLARE %s NO SCROLL CURSOR FOR %s
		WHERE o.order_date >= $1 AND o.order_date <= $2
		ORDER BY o.order_date, o.seq`, name, selectOrderColumns)

	if _, err := own.tx.ExecContext(ctx, query, dr.From.Time(), dr.To.Time()); err != nil {
		return nil, fmt.Errorf("declare order cursor: %w", classify(err))
	}

	return &cursorIterator{
		scope:     own,
		typeMap:   pgtype.NewMap(),
		name:      name,
		fetchSize: r.fetchSize,
	}, nil
}

func (r *OrderRepository) ListRange(ctx context.Context, dr domain.DateRange) ([]domain.Order, error) {
	sc, err := r.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sc.Rollback() }()

	it, err := r.StreamRange(ctx, sc, dr)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderStore = (*OrderRepository)(nil)
