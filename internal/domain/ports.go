package domain

import (
	"context"
	"time"
)

// OrderEventType — тип доменного события заказа.
type OrderEventType string

// OrderEventCreated публикуется после успешного сохранения нового заказа.
const OrderEventCreated OrderEventType = "order.created"

// OrderEvent — событие жизненного цикла заказа для внешних подписчиков.
type OrderEvent struct {
	Type          OrderEventType
	OrderID       string
	Date          Date
	CanBeApproved bool
	OccurredAt    time.Time
}

// EventPublisher публикует события заказов во внешний брокер.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// DiscardPublisher игнорирует события. Используется, когда брокер не настроен.
type DiscardPublisher struct{}

func (DiscardPublisher) PublishOrderEvent(context.Context, OrderEvent) error { return nil }

var _ EventPublisher = DiscardPublisher{}
