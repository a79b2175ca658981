package domain

// Deviation — отклонение по заказу, блокирующее автоматическое подтверждение.
type Deviation struct {
	Description string
}

// Order — заказ клиента. ID присваивается хранилищем при создании и дальше не меняется.
type Order struct {
	ID         string
	Date       Date
	Comment    string
	Deviations []Deviation
}

// CanBeApproved сообщает, можно ли подтвердить заказ автоматически.
func (o Order) CanBeApproved() bool {
	return len(o.Deviations) == 0
}

// Clone возвращает независимую копию заказа (срез отклонений копируется).
func (o Order) Clone() Order {
	out := o
	if o.Deviations != nil {
		out.Deviations = make([]Deviation, len(o.Deviations))
		copy(out.Deviations, o.Deviations)
	}
	return out
}

// Validate проверяет заказ перед сохранением.
func (o Order) Validate() error {
	if o.Date.IsZero() {
		return ErrInvalidOrder
	}
	return nil
}
