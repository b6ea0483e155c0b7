package checkout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/memory"
)

type testEnv struct {
	store    *memory.Store
	books    domain.BookRepository
	orders   domain.OrderRepository
	carts    domain.CartRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	svc      *checkout.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	env := &testEnv{
		store:    store,
		books:    memory.NewBookRepository(store),
		orders:   memory.NewOrderRepository(store),
		carts:    memory.NewCartRepository(store),
		outbox:   memory.NewOutboxRepository(store),
		timeline: memory.NewTimelineRepository(store),
	}
	env.svc = checkout.NewService(
		memory.NewUnitOfWork(store),
		env.books,
		env.orders,
		env.carts,
		env.outbox,
		env.timeline,
		checkout.WithLogger(loggerForTests()),
	)
	return env
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func (e *testEnv) seedBook(t *testing.T, id string, priceMinor int64, stock int32) domain.Book {
	t.Helper()

	now := time.Now().UTC()
	price, err := domain.NewMoney(priceMinor, "USD")
	require.NoError(t, err)
	isbn, err := domain.NewISBN(fmt.Sprintf("978-%s", id))
	require.NoError(t, err)

	book := domain.Book{
		ID:            id,
		Title:         "Book " + id,
		Author:        "Author",
		ISBN:          isbn,
		Price:         price,
		TotalQuantity: stock,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, e.books.Create(book))
	return book
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 1000, 10)
	env.seedBook(t, "book-2", 500, 5)

	order, err := env.svc.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items: []checkout.PlaceOrderItem{
			{BookID: "book-1", Qty: 2},
			{BookID: "book-2", Qty: 3},
		},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 2)
	// 2*1000 + 3*500
	require.Equal(t, int64(3500), order.Total.AmountMinor)
	require.Equal(t, "USD", order.Total.Currency)

	// Остатки списаны.
	book1, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(8), book1.TotalQuantity)
	book2, err := env.books.Get("book-2")
	require.NoError(t, err)
	require.Equal(t, int32(2), book2.TotalQuantity)

	// Заказ доступен через репозиторий и по ключу.
	stored, err := env.orders.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, "key-1", stored.IdempotencyKey)

	// Событие и timeline записаны в той же транзакции.
	pending, err := env.outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderPlaced, pending[0].EventType)
	require.Equal(t, order.ID, pending[0].AggregateID)

	events, err := env.svc.OrderTimeline(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventOrderPlaced, events[0].Type)
}

func TestPlaceOrder_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		Items: []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 1}},
	})
	require.ErrorIs(t, err, domain.ErrUserRequired)

	_, err = env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{UserID: "user-1"})
	require.ErrorIs(t, err, domain.ErrItemsRequired)

	_, err = env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 0}},
	})
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	_, err = env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "", Qty: 1}},
	})
	require.ErrorIs(t, err, domain.ErrItemsRequired)
}

func TestPlaceOrder_MergesDuplicateBooks(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)

	order, err := env.svc.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items: []checkout.PlaceOrderItem{
			{BookID: "book-1", Qty: 2},
			{BookID: "book-1", Qty: 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, int32(5), order.Items[0].Qty)

	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(5), book.TotalQuantity)
}

func TestPlaceOrder_AllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	env.seedBook(t, "book-2", 100, 1)

	_, err := env.svc.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items: []checkout.PlaceOrderItem{
			{BookID: "book-1", Qty: 2},
			{BookID: "book-2", Qty: 5},
		},
	})
	oos, ok := domain.IsOutOfStock(err)
	require.True(t, ok, "expected out-of-stock, got %v", err)
	require.Equal(t, "book-2", oos.BookID)

	// Ни одна книга не списана, заказ не создан.
	book1, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), book1.TotalQuantity)
	book2, err := env.books.Get("book-2")
	require.NoError(t, err)
	require.Equal(t, int32(1), book2.TotalQuantity)

	orders, err := env.orders.ListByUser("user-1", 0)
	require.NoError(t, err)
	require.Empty(t, orders)
}

// countingUnitOfWork считает открытые транзакции.
type countingUnitOfWork struct {
	domain.UnitOfWork
	calls int
}

func (u *countingUnitOfWork) WithinTx(ctx context.Context, fn func(domain.TxRepos) error) error {
	u.calls++
	return u.UnitOfWork.WithinTx(ctx, fn)
}

func TestPlaceOrder_UnknownBook(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)

	uow := &countingUnitOfWork{UnitOfWork: memory.NewUnitOfWork(env.store)}
	svc := checkout.NewService(
		uow,
		env.books,
		env.orders,
		env.carts,
		env.outbox,
		env.timeline,
		checkout.WithLogger(loggerForTests()),
	)

	// Неизвестная книга отклоняется до транзакции, даже рядом с известной.
	_, err := svc.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items: []checkout.PlaceOrderItem{
			{BookID: "book-1", Qty: 1},
			{BookID: "book-404", Qty: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrBookNotFound)
	require.Zero(t, uow.calls, "unknown book id must be rejected before opening a transaction")

	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), book.TotalQuantity)
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	req := checkout.PlaceOrderRequest{
		UserID:         "user-1",
		Items:          []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 2}},
		IdempotencyKey: "key-1",
	}

	first, err := env.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	second, err := env.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Остаток списан ровно один раз.
	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(8), book.TotalQuantity)

	orders, err := env.orders.ListByUser("user-1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestPlaceOrder_ConcurrentNoOversell(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 5)
	ctx := context.Background()

	// Конкурентам нужен запас повторов: проигравший гонку версий должен
	// дойти либо до успешного резерва, либо до честного out-of-stock.
	svc := checkout.NewService(
		memory.NewUnitOfWork(env.store),
		env.books,
		env.orders,
		env.carts,
		env.outbox,
		env.timeline,
		checkout.WithLogger(loggerForTests()),
		checkout.WithRetry(checkout.RetryConfig{
			MaxAttempts:   20,
			InitialDelay:  time.Millisecond,
			MaxDelay:      20 * time.Millisecond,
			BackoffFactor: 2.0,
		}),
	)

	const buyers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		placed     int
		outOfStock int
		unexpected []error
	)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
				UserID: fmt.Sprintf("user-%d", n),
				Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 1}},
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			default:
				if _, ok := domain.IsOutOfStock(err); ok {
					outOfStock++
					return
				}
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, unexpected)
	require.Equal(t, 5, placed)
	require.Equal(t, 5, outOfStock)

	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(0), book.TotalQuantity)
}

func TestCancelOrder_RestocksInventory(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	order, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 4}},
	})
	require.NoError(t, err)

	canceled, err := env.svc.CancelOrder(ctx, order.ID, "customer request")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, canceled.Status)

	// Остаток вернулся полностью.
	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), book.TotalQuantity)

	// Timeline содержит placed и canceled с причиной.
	events, err := env.svc.OrderTimeline(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventOrderCanceled, events[1].Type)
	require.Equal(t, "customer request", events[1].Reason)
}

func TestCancelOrder_DoubleCancelRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	order, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 2}},
	})
	require.NoError(t, err)

	_, err = env.svc.CancelOrder(ctx, order.ID, "first")
	require.NoError(t, err)

	_, err = env.svc.CancelOrder(ctx, order.ID, "second")
	_, ok := domain.IsInvalidTransition(err)
	require.True(t, ok, "expected invalid transition, got %v", err)

	// Повторная отмена не возвращает остаток второй раз.
	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), book.TotalQuantity)
}

func TestCancelOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CancelOrder(context.Background(), "order-404", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestUpdateOrderStatus_ValidTransition(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	order, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 1}},
	})
	require.NoError(t, err)

	updated, err := env.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, updated.Status)

	stored, err := env.orders.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, stored.Status)
	require.Equal(t, updated.Version, stored.Version)
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	order, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 1}},
	})
	require.NoError(t, err)

	_, err = env.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusDelivered)
	_, ok := domain.IsInvalidTransition(err)
	require.True(t, ok, "expected invalid transition, got %v", err)
}

func TestUpdateOrderStatus_CancelDelegatesRestock(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	order, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 3}},
	})
	require.NoError(t, err)

	updated, err := env.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCanceled)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, updated.Status)

	book, err := env.books.Get("book-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), book.TotalQuantity)
}

func TestPlaceOrderFromCart(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 200, 10)
	env.seedBook(t, "book-2", 300, 10)
	ctx := context.Background()
	now := time.Now().UTC()

	cart, err := domain.NewShoppingCart("cart-1", "user-1", now)
	require.NoError(t, err)
	price1, _ := domain.NewMoney(200, "USD")
	price2, _ := domain.NewMoney(300, "USD")
	require.NoError(t, cart.AddItem("line-1", "book-1", 2, price1, now))
	require.NoError(t, cart.AddItem("line-2", "book-2", 1, price2, now))
	require.NoError(t, env.carts.Save(cart))

	order, err := env.svc.PlaceOrderFromCart(ctx, "user-1", "checkout-key")
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.Equal(t, int64(700), order.Total.AmountMinor)

	// Корзина очищена после оформления.
	fresh, err := env.carts.GetByUser("user-1")
	require.NoError(t, err)
	require.Empty(t, fresh.Items)
	require.True(t, fresh.Total.IsZero())

	// Событие checkout лежит в outbox вместе с событием размещения.
	pending, err := env.outbox.PullPending(10)
	require.NoError(t, err)
	types := make(map[string]int)
	for _, msg := range pending {
		types[msg.EventType]++
	}
	require.Equal(t, 1, types[domain.EventOrderPlaced])
	require.Equal(t, 1, types[domain.EventCartCheckedOut])
}

func TestPlaceOrderFromCart_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cart, err := domain.NewShoppingCart("cart-1", "user-1", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, env.carts.Save(cart))

	_, err = env.svc.PlaceOrderFromCart(ctx, "user-1", "")
	require.ErrorIs(t, err, domain.ErrItemsRequired)
}

func TestPlaceOrderFromCart_NoCart(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.PlaceOrderFromCart(context.Background(), "user-404", "")
	require.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
			UserID: "user-1",
			Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 1}},
		})
		require.NoError(t, err)
	}

	orders, err := env.svc.ListOrders(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	_, err = env.svc.ListOrders(ctx, "", 0)
	require.ErrorIs(t, err, domain.ErrUserRequired)
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedBook(t, "book-1", 100, 10)
	ctx := context.Background()

	order, err := env.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID: "user-1",
		Items:  []checkout.PlaceOrderItem{{BookID: "book-1", Qty: 1}},
	})
	require.NoError(t, err)

	stored, err := env.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, stored.ID)

	_, err = env.svc.GetOrder(ctx, "order-404")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
