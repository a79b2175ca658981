package domain

import "context"

// Scope — открытая сессия хранилища (транзакция), внутри которой живёт курсор.
// Commit и Rollback освобождают сессию; повторный вызов возвращает ErrScopeClosed.
type Scope interface {
	Commit() error
	Rollback() error
}

// ScopeOpener открывает новые scope.
type ScopeOpener interface {
	// Begin открывает транзакцию с изоляцией для согласованного чтения.
	Begin(ctx context.Context) (Scope, error)
}

// OrderIterator — ленивая последовательность заказов, только вперёд.
//
// Next возвращает true, пока есть элемент. После false: Err() == nil означает
// конец последовательности, Err() != nil — сбой.
type OrderIterator interface {
	Next(ctx context.Context) bool
	Order() Order
	Err() error
	Close() error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Add сохраняет заказ в собственной транзакции и возвращает новый ID.
	Add(ctx context.Context, order Order) (string, error)
	// AddInScope сохраняет заказ внутри переданного scope; данные видны после Commit.
	AddInScope(ctx context.Context, scope Scope, order Order) (string, error)
	// StreamRange открывает курсор по диапазону дат внутри переданного scope.
	StreamRange(ctx context.Context, scope Scope, r DateRange) (OrderIterator, error)
	// ListRange читает весь диапазон в память. Только для ограниченных выборок.
	ListRange(ctx context.Context, r DateRange) ([]Order, error)
}

// OrderStore объединяет репозиторий и открытие scope одного и того же хранилища.
type OrderStore interface {
	OrderRepository
	ScopeOpener
}
