package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

const (
	priceCacheSize = 1024
	priceCacheTTL  = 30 * time.Second

	maxSaveAttempts = 3
	retryDelay      = 10 * time.Millisecond
)

// Service управляет корзиной пользователя: добавление, удаление и изменение
// количества строк с синхронным пересчётом итога. Каждая мутация проходит
// через optimistic locking корзины; проигравший гонку перечитывает свежую
// версию и повторяет изменение.
type Service struct {
	carts  domain.CartRepository
	books  domain.BookRepository
	clock  domain.Clock
	logger *log.Entry

	// Кэш цен каталога: снапшот цены для строки корзины не обязан быть
	// свежее TTL — заказ всё равно берёт актуальную цену при оформлении.
	prices *expirable.LRU[string, domain.Money]
}

// NewService создаёт сервис корзины.
func NewService(carts domain.CartRepository, books domain.BookRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "cart")
	}
	return &Service{
		carts:  carts,
		books:  books,
		clock:  domain.SystemClock(),
		logger: logger,
		prices: expirable.NewLRU[string, domain.Money](priceCacheSize, nil, priceCacheTTL),
	}
}

// WithClock заменяет источник времени (для тестов).
func (s *Service) WithClock(clock domain.Clock) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// AddToCart добавляет книгу в корзину пользователя, создавая корзину
// при первом обращении. Существующая строка книги увеличивает количество.
func (s *Service) AddToCart(ctx context.Context, userID, bookID string, qty int32) (domain.ShoppingCart, error) {
	price, err := s.lookupPrice(bookID)
	if err != nil {
		return domain.ShoppingCart{}, err
	}

	return s.mutate(ctx, userID, true, func(cart *domain.ShoppingCart, now time.Time) error {
		return cart.AddItem(uuid.NewString(), bookID, qty, price, now)
	})
}

// RemoveFromCart удаляет строку корзины; отсутствующая строка — no-op.
func (s *Service) RemoveFromCart(ctx context.Context, userID, lineID string) (domain.ShoppingCart, error) {
	return s.mutate(ctx, userID, false, func(cart *domain.ShoppingCart, now time.Time) error {
		return cart.RemoveItem(lineID, now)
	})
}

// UpdateCartItem устанавливает количество строки корзины.
func (s *Service) UpdateCartItem(ctx context.Context, userID, lineID string, qty int32) (domain.ShoppingCart, error) {
	return s.mutate(ctx, userID, false, func(cart *domain.ShoppingCart, now time.Time) error {
		return cart.UpdateQuantity(lineID, qty, now)
	})
}

// ClearCart опустошает корзину пользователя.
func (s *Service) ClearCart(ctx context.Context, userID string) (domain.ShoppingCart, error) {
	return s.mutate(ctx, userID, false, func(cart *domain.ShoppingCart, now time.Time) error {
		cart.Clear(now)
		return nil
	})
}

// GetCart возвращает корзину пользователя.
func (s *Service) GetCart(ctx context.Context, userID string) (domain.ShoppingCart, error) {
	return s.carts.GetByUser(userID)
}

// mutate применяет изменение к корзине с повторами при конфликтах версий.
// createMissing управляет поведением для пользователя без корзины: создать
// пустую (добавление) или вернуть ErrCartNotFound (остальные операции).
func (s *Service) mutate(
	ctx context.Context,
	userID string,
	createMissing bool,
	apply func(cart *domain.ShoppingCart, now time.Time) error,
) (domain.ShoppingCart, error) {
	if userID == "" {
		return domain.ShoppingCart{}, domain.ErrUserRequired
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.ShoppingCart{}, err
		}
		now := s.clock.Now()

		cart, err := s.carts.GetByUser(userID)
		if errors.Is(err, domain.ErrCartNotFound) && createMissing {
			cart, err = domain.NewShoppingCart(uuid.NewString(), userID, now)
		}
		if err != nil {
			return domain.ShoppingCart{}, err
		}

		if err := apply(&cart, now); err != nil {
			return domain.ShoppingCart{}, err
		}

		err = s.carts.Save(cart)
		if err == nil {
			cart.Version++
			return cart, nil
		}

		retryable := domain.IsVersionConflict(err) || errors.Is(err, domain.ErrCartExists)
		if !retryable || attempt >= maxSaveAttempts {
			return domain.ShoppingCart{}, err
		}

		s.logger.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"attempt": attempt,
		}).Warn("cart save conflict, retrying")
		time.Sleep(retryDelay * time.Duration(1<<uint(attempt-1)))
	}
}

// lookupPrice возвращает цену книги, используя LRU-кэш с TTL.
func (s *Service) lookupPrice(bookID string) (domain.Money, error) {
	if price, ok := s.prices.Get(bookID); ok {
		return price, nil
	}

	book, err := s.books.Get(bookID)
	if err != nil {
		return domain.Money{}, err
	}
	s.prices.Add(bookID, book.Price)
	return book.Price, nil
}
