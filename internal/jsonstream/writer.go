// Package jsonstream пишет последовательность заказов как JSON-массив,
// не держа в памяти больше одного элемента.
package jsonstream

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
)

var (
	arrayOpen  = []byte{'['}
	arrayClose = []byte{']'}
	separator  = []byte{','}
)

// Options — настройки выгрузки.
type Options struct {
	// FlushEvery > 0 сбрасывает буфер приёмника каждые FlushEvery элементов.
	FlushEvery int
}

// Option изменяет Options.
type Option func(*Options)

// WithFlushEvery задаёт период сброса буфера приёмника в элементах.
func WithFlushEvery(n int) Option {
	return func(o *Options) {
		o.FlushEvery = n
	}
}

type flusher interface {
	Flush() error
}

// WriteOrders пишет "[", затем каждый заказ сразу после получения из итератора,
// затем "]" и сбрасывает приёмник. Возвращает число записанных заказов.
//
// Итератор продвигается ровно на один элемент перед записью этого элемента.
// "[" пишется только после первого ответа итератора, поэтому сбой на первом
// чтении не оставляет в приёмнике ни байта.
//
// Ошибки приёмника и кодирования оборачиваются в domain.ErrSerialization,
// ошибки итератора возвращаются как есть. Отмена ctx проверяется между
// элементами. Приёмник не закрывается.
func WriteOrders(ctx context.Context, sink io.Writer, it domain.OrderIterator, opts ...Option) (int, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	more := it.Next(ctx)
	if !more {
		if err := it.Err(); err != nil {
			return 0, err
		}
	}

	if _, err := sink.Write(arrayOpen); err != nil {
		return 0, fmt.Errorf("%w: write array start: %w", domain.ErrSerialization, err)
	}

	var (
		enc     jx.Encoder
		written int
	)
	for ; more; more = it.Next(ctx) {
		if written > 0 {
			if _, err := sink.Write(separator); err != nil {
				return written, fmt.Errorf("%w: write separator: %w", domain.ErrSerialization, err)
			}
		}

		enc.Reset()
		EncodeOrder(&enc, it.Order())
		if _, err := sink.Write(enc.Bytes()); err != nil {
			return written, fmt.Errorf("%w: write order: %w", domain.ErrSerialization, err)
		}
		written++

		if options.FlushEvery > 0 && written%options.FlushEvery == 0 {
			if err := flush(sink); err != nil {
				return written, fmt.Errorf("%w: flush: %w", domain.ErrSerialization, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", domain.ErrSerialization, err)
		}
	}
	if err := it.Err(); err != nil {
		return written, err
	}

	if _, err := sink.Write(arrayClose); err != nil {
		return written, fmt.Errorf("%w: write array end: %w", domain.ErrSerialization, err)
	}
	if err := flush(sink); err != nil {
		return written, fmt.Errorf("%w: flush: %w", domain.ErrSerialization, err)
	}
	return written, nil
}

// EncodeOrder кодирует один заказ в enc.
func EncodeOrder(enc *jx.Encoder, order domain.Order) {
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(order.ID)
	enc.FieldStart("date")
	enc.Str(order.Date.String())
	enc.FieldStart("comment")
	enc.Str(order.Comment)
	enc.FieldStart("deviations")
	enc.ArrStart()
	for _, deviation := range order.Deviations {
		enc.ObjStart()
		enc.FieldStart("description")
		enc.Str(deviation.Description)
		enc.ObjEnd()
	}
	enc.ArrEnd()
	enc.ObjEnd()
}

func flush(sink io.Writer) error {
	switch f := sink.(type) {
	case flusher:
		return f.Flush()
	case http.Flusher:
		f.Flush()
	}
	return nil
}
