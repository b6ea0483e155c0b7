package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отрицательной денежной суммы.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка сложения денег в разных валютах.
	ErrCurrencyMismatch = errors.New("money currency mismatch")
	// Ошибка количества в корзине вне допустимого диапазона (< 1).
	ErrQuantityRange = errors.New("quantity must be at least 1")
	// Ошибка пустого ISBN.
	ErrISBNRequired = errors.New("isbn is required")
	// Ошибка слишком длинного ISBN (> 20 символов).
	ErrISBNTooLong = errors.New("isbn must be at most 20 characters")
	// Ошибка недопустимых символов в ISBN.
	ErrISBNInvalidChar = errors.New("isbn may contain only digits, latin letters and dashes")
	// Ошибка пустого названия книги.
	ErrBookTitleRequired = errors.New("book title is required")
	// ErrBookNotFound возвращается, если книга не найдена в каталоге.
	ErrBookNotFound = errors.New("book not found")
	// ErrBookExists возвращается при попытке создать книгу с занятым ID или ISBN.
	ErrBookExists = errors.New("book already exists")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrCartNotFound возвращается, если у пользователя ещё нет корзины.
	ErrCartNotFound = errors.New("shopping cart not found")
	// ErrCartLineNotFound возвращается при обновлении несуществующей строки корзины.
	ErrCartLineNotFound = errors.New("cart line not found")
	// ErrCartExists возвращается при нарушении инварианта «одна корзина на пользователя».
	ErrCartExists = errors.New("shopping cart already exists for user")
	// ErrVersionConflict сигнализирует о конфликте optimistic-locking версий при сохранении.
	ErrVersionConflict = errors.New("aggregate version conflict")
	// ErrDuplicateIdempotencyKey возвращается, когда ключ идемпотентности уже связан с заказом.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrOutboxNotFound возвращается при обращении к отсутствующей записи outbox.
	ErrOutboxNotFound = errors.New("outbox message not found")
	// ErrStoreUnavailable — временная ошибка хранилища (таймаут/обрыв соединения), можно повторить.
	ErrStoreUnavailable = errors.New("store temporarily unavailable")
)

// OutOfStockError возвращается при нехватке остатка: запрошено больше, чем доступно.
type OutOfStockError struct {
	BookID    string
	Requested int32
	Available int32
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("book %s out of stock: requested %d, available %d", e.BookID, e.Requested, e.Available)
}

// InvalidTransitionError возвращается при недопустимом переходе статуса заказа.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrCartLineNotFound) ||
		errors.Is(err, ErrOutboxNotFound)
}

// IsOutOfStock извлекает OutOfStockError из цепочки ошибок.
func IsOutOfStock(err error) (*OutOfStockError, bool) {
	var oos *OutOfStockError
	if errors.As(err, &oos) {
		return oos, true
	}
	return nil, false
}

// IsInvalidTransition извлекает InvalidTransitionError из цепочки ошибок.
func IsInvalidTransition(err error) (*InvalidTransitionError, bool) {
	var it *InvalidTransitionError
	if errors.As(err, &it) {
		return it, true
	}
	return nil, false
}

// IsValidation проверяет, является ли ошибка ошибкой входных данных (не ретраится).
func IsValidation(err error) bool {
	for _, sentinel := range []error{
		ErrUserRequired, ErrItemsRequired, ErrItemQtyInvalid, ErrItemPriceInvalid,
		ErrAmountNegative, ErrAmountMismatch, ErrCurrencyRequired, ErrCurrencyMismatch,
		ErrQuantityRange, ErrISBNRequired, ErrISBNTooLong, ErrISBNInvalidChar,
		ErrBookTitleRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
