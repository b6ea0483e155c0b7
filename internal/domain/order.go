package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, остаток уже зарезервирован.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ взят в обработку.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён до доставки; терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
)

// transitions задаёт допустимые переходы машины статусов.
// Отмена достижима из любого нетерминального статуса.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCanceled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCanceled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCanceled},
	OrderStatusDelivered:  {},
	OrderStatusCanceled:   {},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// CanTransitionTo проверяет допустимость перехода по таблице.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem представляет одну позицию заказа.
// UnitPrice — снапшот цены книги на момент оформления: последующие изменения
// каталога не переписывают исторические заказы.
type OrderItem struct {
	ID        string
	BookID    string
	Qty       int32
	UnitPrice Money
	CreatedAt time.Time
}

// Subtotal возвращает подытог позиции.
func (i OrderItem) Subtotal() (Money, error) {
	return i.UnitPrice.MulQty(i.Qty)
}

// Order агрегирует состояние заказа и его позиции.
// Total фиксируется при создании и никогда не пересчитывается — это
// исторический документ, в отличие от живого итога корзины.
// IdempotencyKey, если задан, уникально идентифицирует не более одного заказа.
type Order struct {
	ID             string
	UserID         string
	Status         OrderStatus
	Total          Money
	Items          []OrderItem
	IdempotencyKey string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransitionTo переводит заказ в следующий статус, проверяя таблицу переходов.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !next.Valid() {
		return &InvalidTransitionError{From: o.Status, To: next}
	}
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Total.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Total.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * unitPrice.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.AmountMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.UnitPrice.Currency != o.Total.Currency {
			errs = append(errs, ErrCurrencyMismatch)
		}
		calc += int64(item.Qty) * item.UnitPrice.AmountMinor
	}
	if calc != o.Total.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
