package memory

import (
	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// cartRepositoryInMemory — реализация CartRepository поверх разделяемого Store.
// Инвариант «одна корзина на пользователя» обеспечивается ключом по user id.
type cartRepositoryInMemory struct {
	store *Store
}

// NewCartRepository возвращает in-memory репозиторий корзин.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepositoryInMemory{store: store}
}

// GetByUser возвращает корзину пользователя или ErrCartNotFound.
func (r *cartRepositoryInMemory) GetByUser(userID string) (domain.ShoppingCart, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	cart, ok := r.store.carts[userID]
	if !ok {
		return domain.ShoppingCart{}, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

// Save вставляет корзину с Version==0 либо перезаписывает существующую
// с проверкой версии.
func (r *cartRepositoryInMemory) Save(cart domain.ShoppingCart) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, exists := r.store.carts[cart.UserID]
	if !exists {
		if cart.Version != 0 {
			return domain.ErrCartNotFound
		}
		cart.Version = 1
		r.store.carts[cart.UserID] = cloneCart(cart)
		return nil
	}
	if current.ID != cart.ID {
		return domain.ErrCartExists
	}
	if current.Version != cart.Version {
		return domain.ErrVersionConflict
	}
	cart.Version++
	r.store.carts[cart.UserID] = cloneCart(cart)
	return nil
}

// cloneCart копирует корзину вместе со срезом строк.
func cloneCart(cart domain.ShoppingCart) domain.ShoppingCart {
	items := make([]domain.CartItem, len(cart.Items))
	copy(items, cart.Items)
	cart.Items = items
	return cart
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
