package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStoreUnavailable — хранилище недоступно (сеть, соединение, таймаут).
	ErrStoreUnavailable = errors.New("order store unavailable")
	// ErrSerialization — ошибка записи или кодирования в поток ответа.
	ErrSerialization = errors.New("order serialization failed")
	// ErrInvalidRange — диапазон дат не прошёл проверку.
	ErrInvalidRange = errors.New("invalid date range")
	// ErrInvalidOrder — заказ не может быть сохранён (например, без даты).
	ErrInvalidOrder = errors.New("invalid order: date is required")
	// ErrScopeClosed — scope уже закоммичен или откатан.
	ErrScopeClosed = errors.New("scope is already closed")
	// ErrForeignScope — scope создан другим хранилищем.
	ErrForeignScope = errors.New("scope belongs to another store")
)

// IsNotFound проверяет, означает ли ошибка отсутствие заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsUnavailable проверяет, означает ли ошибка недоступность хранилища.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
