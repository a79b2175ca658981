// Package orders — прикладной сервис заказов: чтение, создание, средняя
// частота заказов и транзакционная потоковая выгрузка диапазона.
package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/jsonstream"
	"github.com/vladislavdragonenkov/orderstream/internal/metrics"
	"github.com/vladislavdragonenkov/orderstream/internal/txscope"
)

// Service связывает хранилище, scope runner и публикацию событий.
type Service struct {
	store      domain.OrderStore
	runner     *txscope.Runner
	publisher  domain.EventPublisher
	metrics    *metrics.OrderMetrics
	logger     *log.Entry
	now        func() time.Time
	flushEvery int
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет часы (для тестов и вычисления "сегодня").
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics подключает метрики выгрузки.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithFlushEvery сбрасывает приёмник выгрузки каждые n заказов.
func WithFlushEvery(n int) Option {
	return func(s *Service) {
		s.flushEvery = n
	}
}

// NewService конструирует сервис. publisher == nil означает, что события не публикуются.
func NewService(store domain.OrderStore, runner *txscope.Runner, publisher domain.EventPublisher, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	if publisher == nil {
		publisher = domain.DiscardPublisher{}
	}
	s := &Service{
		store:     store,
		runner:    runner,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today возвращает текущую дату по UTC с учётом подменённых часов.
func (s *Service) Today() domain.Date {
	return domain.Today(s.now)
}

// GetOrder возвращает заказ; ошибки хранилища не меняются.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.store.Get(ctx, id)
}

// AddOrder сохраняет заказ и публикует order.created. Сбой публикации только логируется.
func (s *Service) AddOrder(ctx context.Context, order domain.Order) (string, error) {
	id, err := s.store.Add(ctx, order)
	if err != nil {
		return "", err
	}
	s.metrics.OrderAdded()

	order.ID = id
	event := domain.OrderEvent{
		Type:          domain.OrderEventCreated,
		OrderID:       id,
		Date:          order.Date,
		CanBeApproved: order.CanBeApproved(),
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", id).Warn("publish order event failed")
	}
	return id, nil
}

// GetAverageOrders = число заказов диапазона / число дней включительно.
// Перевёрнутый диапазон даёт domain.ErrInvalidRange.
func (s *Service) GetAverageOrders(ctx context.Context, from, to domain.Date) (float64, error) {
	r := domain.DateRange{From: from, To: to}
	days := r.DaysInclusive()
	if days <= 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidRange, r)
	}

	orders, err := s.store.ListRange(ctx, r)
	if err != nil {
		return 0, err
	}
	return float64(len(orders)) / float64(days), nil
}

// StreamOrders открывает курсор диапазона внутри scope вызывающего.
func (s *Service) StreamOrders(ctx context.Context, scope domain.Scope, from, to domain.Date) (domain.OrderIterator, error) {
	if scope == nil {
		return nil, fmt.Errorf("stream orders: %w", domain.ErrScopeClosed)
	}
	return s.store.StreamRange(ctx, scope, domain.DateRange{From: from, To: to})
}

// ExportRange выполняет полный конвейер: scope, курсор, JSON-массив в w.
// Возвращает число записанных заказов. Если запись не удалась, scope откатывается.
func (s *Service) ExportRange(ctx context.Context, w io.Writer, from, to domain.Date) (int, error) {
	var (
		written     int
		bodyStarted bool
		bodyDone    bool
	)

	err := s.runner.Run(ctx, func(ctx context.Context, scope domain.Scope) error {
		bodyStarted = true
		it, err := s.StreamOrders(ctx, scope, from, to)
		if err != nil {
			s.metrics.StreamFailed(metrics.StageOpen)
			return err
		}
		defer it.Close()

		written, err = jsonstream.WriteOrders(ctx, w, it, jsonstream.WithFlushEvery(s.flushEvery))
		if err != nil {
			if errors.Is(err, domain.ErrSerialization) {
				s.metrics.StreamFailed(metrics.StageSerialize)
			} else {
				s.metrics.StreamFailed(metrics.StageIterate)
			}
			return err
		}
		bodyDone = true
		return nil
	})
	s.metrics.OrdersStreamed(written)

	if err != nil {
		switch {
		case !bodyStarted:
			s.metrics.StreamFailed(metrics.StageOpen)
		case bodyDone:
			s.metrics.StreamFailed(metrics.StageRelease)
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"from":    from.String(),
			"to":      to.String(),
			"written": written,
		}).Warn("order export failed")
		return written, err
	}
	return written, nil
}
