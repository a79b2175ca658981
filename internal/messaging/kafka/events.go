package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

// DefaultTopic — топик событий заказов по умолчанию.
const DefaultTopic = "orders.events"

// OrderEvent — представление события заказа в сообщении Kafka.
type OrderEvent struct {
	EventType     string    `json:"event_type"`
	OrderID       string    `json:"order_id"`
	Date          string    `json:"date"`
	CanBeApproved bool      `json:"can_be_approved"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewOrderEvent переводит доменное событие в формат сообщения.
func NewOrderEvent(event domain.OrderEvent) *OrderEvent {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &OrderEvent{
		EventType:     string(event.Type),
		OrderID:       event.OrderID,
		Date:          event.Date.String(),
		CanBeApproved: event.CanBeApproved,
		Timestamp:     ts.UTC(),
	}
}
