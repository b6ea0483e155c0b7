package domain

import "time"

// Book — позиция каталога и одновременно строка инвентаря.
// TotalQuantity отражает доступный к продаже остаток и обязан оставаться
// неотрицательным при любой мутации; Version используется для optimistic locking.
type Book struct {
	ID            string
	Title         string
	Author        string
	ISBN          ISBN
	Price         Money
	TotalQuantity int32
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Reserve списывает qty единиц с остатка в момент создания заказа.
// При нехватке возвращает OutOfStockError с запрошенным и доступным количеством.
func (b *Book) Reserve(qty int32) error {
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	if b.TotalQuantity < qty {
		return &OutOfStockError{BookID: b.ID, Requested: qty, Available: b.TotalQuantity}
	}
	b.TotalQuantity -= qty
	// Инвариант проверяется и после мутации: остаток не бывает отрицательным.
	if b.TotalQuantity < 0 {
		return &OutOfStockError{BookID: b.ID, Requested: qty, Available: b.TotalQuantity + qty}
	}
	return nil
}

// Restock возвращает qty единиц на остаток (компенсация при отмене заказа).
func (b *Book) Restock(qty int32) error {
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	b.TotalQuantity += qty
	return nil
}

// ValidateInvariants проверяет базовые инварианты книги и возвращает список замечаний.
func (b *Book) ValidateInvariants() []error {
	var errs []error

	if b.Title == "" {
		errs = append(errs, ErrBookTitleRequired)
	}
	if b.ISBN == "" {
		errs = append(errs, ErrISBNRequired)
	}
	if b.Price.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if b.Price.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if b.TotalQuantity < 0 {
		errs = append(errs, &OutOfStockError{BookID: b.ID, Requested: 0, Available: b.TotalQuantity})
	}

	return errs
}
