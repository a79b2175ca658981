package domain

import (
	"fmt"
	"time"
)

// DateLayout — текстовое представление календарной даты.
const DateLayout = "2006-01-02"

const day = 24 * time.Hour

// Date — календарный день без времени. Внутри хранится полночь UTC.
type Date struct {
	t time.Time
}

// NewDate создаёт дату из года, месяца и дня.
func NewDate(year int, month time.Month, dayOfMonth int) Date {
	return Date{t: time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)}
}

// DateOf отбрасывает время, оставляя календарный день в часовом поясе t.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// Today возвращает текущую дату по UTC для переданных часов.
func Today(now func() time.Time) Date {
	if now == nil {
		now = time.Now
	}
	return DateOf(now().UTC())
}

// ParseDate разбирает дату в формате YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// Time возвращает полночь UTC этого дня.
func (d Date) Time() time.Time { return d.t }

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

func (d Date) After(other Date) bool { return d.t.After(other.t) }

// AddDays сдвигает дату на n дней (n может быть отрицательным).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// DaysUntil возвращает количество дней от d до other (отрицательное, если other раньше).
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t) / day)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalText реализует encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange — включительный диапазон [From, To].
// From <= To ожидается от вызывающего, но не проверяется: перевёрнутый диапазон просто пуст.
type DateRange struct {
	From Date
	To   Date
}

// Contains сообщает, попадает ли дата в диапазон включительно.
// Перевёрнутый диапазон не содержит ни одной даты, в том числе границ.
func (r DateRange) Contains(d Date) bool {
	if r.Reversed() {
		return false
	}
	return d.Equal(r.From) || d.Equal(r.To) || (d.After(r.From) && d.Before(r.To))
}

// DaysInclusive = (To - From) + 1. Для перевёрнутого диапазона может быть <= 0.
func (r DateRange) DaysInclusive() int {
	return r.From.DaysUntil(r.To) + 1
}

// Reversed сообщает, что To раньше From.
func (r DateRange) Reversed() bool {
	return r.To.Before(r.From)
}

func (r DateRange) String() string {
	return r.From.String() + ".." + r.To.String()
}
