package domain

import "time"

// CartItem представляет одну строку корзины.
// UnitPrice — снапшот цены на момент добавления; заказ всё равно
// берёт актуальную цену книги при оформлении.
type CartItem struct {
	ID        string
	BookID    string
	Qty       int32
	UnitPrice Money
	AddedAt   time.Time
}

// ShoppingCart агрегирует строки корзины одного пользователя.
// Инварианты: не более одной строки на книгу (добавление сливает количества),
// Total всегда равен сумме unitPrice*qty по живым строкам и пересчитывается
// синхронно после каждой мутации.
type ShoppingCart struct {
	ID        string
	UserID    string
	Items     []CartItem
	Total     Money
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewShoppingCart создаёт пустую корзину пользователя.
func NewShoppingCart(id, userID string, now time.Time) (ShoppingCart, error) {
	if userID == "" {
		return ShoppingCart{}, ErrUserRequired
	}
	return ShoppingCart{
		ID:        id,
		UserID:    userID,
		Items:     nil,
		Total:     Zero(DefaultCurrency),
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AddItem добавляет книгу в корзину. Существующая строка той же книги
// увеличивает количество вместо дублирования; новая строка получает lineID.
func (c *ShoppingCart) AddItem(lineID, bookID string, qty int32, unitPrice Money, now time.Time) error {
	if bookID == "" {
		return ErrBookNotFound
	}
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	if unitPrice.Currency == "" {
		return ErrCurrencyRequired
	}
	if len(c.Items) > 0 && c.Items[0].UnitPrice.Currency != unitPrice.Currency {
		return ErrCurrencyMismatch
	}

	merged := false
	for i := range c.Items {
		if c.Items[i].BookID == bookID {
			c.Items[i].Qty += qty
			merged = true
			break
		}
	}
	if !merged {
		c.Items = append(c.Items, CartItem{
			ID:        lineID,
			BookID:    bookID,
			Qty:       qty,
			UnitPrice: unitPrice,
			AddedAt:   now,
		})
	}

	return c.recalc(now)
}

// RemoveItem удаляет строку корзины. Отсутствующая строка — no-op, не ошибка.
func (c *ShoppingCart) RemoveItem(lineID string, now time.Time) error {
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return c.recalc(now)
		}
	}
	return nil
}

// UpdateQuantity устанавливает количество строки. Значение < 1 отклоняется.
func (c *ShoppingCart) UpdateQuantity(lineID string, qty int32, now time.Time) error {
	if qty < 1 {
		return ErrQuantityRange
	}
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			c.Items[i].Qty = qty
			return c.recalc(now)
		}
	}
	return ErrCartLineNotFound
}

// Clear опустошает корзину и обнуляет итог (используется при checkout).
func (c *ShoppingCart) Clear(now time.Time) {
	c.Items = nil
	c.Total = Zero(DefaultCurrency)
	c.UpdatedAt = now
}

// recalc пересчитывает Total как сумму подытогов строк.
// Валюта итога берётся из первой строки; пустая корзина — ноль в валюте по умолчанию.
func (c *ShoppingCart) recalc(now time.Time) error {
	if len(c.Items) == 0 {
		c.Total = Zero(DefaultCurrency)
		c.UpdatedAt = now
		return nil
	}

	total := Zero(c.Items[0].UnitPrice.Currency)
	for _, item := range c.Items {
		sub, err := item.UnitPrice.MulQty(item.Qty)
		if err != nil {
			return err
		}
		total, err = total.Add(sub)
		if err != nil {
			return err
		}
	}

	c.Total = total
	c.UpdatedAt = now
	return nil
}

// FindLine возвращает строку корзины по её идентификатору.
func (c *ShoppingCart) FindLine(lineID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ID == lineID {
			return item, true
		}
	}
	return CartItem{}, false
}
