package domain

import "fmt"

// DefaultCurrency используется для нулевой суммы пустой корзины.
const DefaultCurrency = "USD"

// Money — неизменяемое денежное значение в минимальных единицах валюты
// (например, центы). Целочисленное представление даёт точную арифметику
// с двумя знаками после запятой без ошибок плавающей точки.
type Money struct {
	AmountMinor int64
	Currency    string
}

// NewMoney создаёт денежное значение, проверяя неотрицательность суммы и наличие валюты.
func NewMoney(amountMinor int64, currency string) (Money, error) {
	if amountMinor < 0 {
		return Money{}, ErrAmountNegative
	}
	if currency == "" {
		return Money{}, ErrCurrencyRequired
	}
	return Money{AmountMinor: amountMinor, Currency: currency}, nil
}

// Zero возвращает нулевую сумму в указанной валюте.
// Пустая валюта заменяется на DefaultCurrency.
func Zero(currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{AmountMinor: 0, Currency: currency}
}

// Add складывает две суммы. Валюты должны совпадать.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// MulQty умножает цену на целое количество (для подытога позиции).
func (m Money) MulQty(qty int32) (Money, error) {
	if qty <= 0 {
		return Money{}, ErrItemQtyInvalid
	}
	return Money{AmountMinor: m.AmountMinor * int64(qty), Currency: m.Currency}, nil
}

// IsZero сообщает, является ли сумма нулевой.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// Equal сравнивает суммы по значению: и количество, и валюта.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// String форматирует сумму как "12.34 USD".
func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.AmountMinor/100, m.AmountMinor%100, m.Currency)
}
