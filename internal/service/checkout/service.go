package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/metrics"
)

// PlaceOrderItem — одна позиция запроса на размещение заказа.
type PlaceOrderItem struct {
	BookID string
	Qty    int32
}

// PlaceOrderRequest — запрос на размещение заказа.
// IdempotencyKey опционален: пустой ключ означает, что повтор создаст новый заказ.
type PlaceOrderRequest struct {
	UserID         string
	Items          []PlaceOrderItem
	IdempotencyKey string
}

// Service реализует размещение заказов с резервированием остатков,
// идемпотентностью по ключу и машиной статусов с возвратом остатка
// при отмене. Все мутации инвентаря и заказа проходят через unit of work:
// либо заказ создан и остаток списан по всем позициям, либо ничего.
type Service struct {
	uow      domain.UnitOfWork
	books    domain.BookRepository
	orders   domain.OrderRepository
	carts    domain.CartRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository

	clock   domain.Clock
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	retry   RetryConfig
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает запись Prometheus-метрик.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock задаёт источник времени (для тестов).
func WithClock(clock domain.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRetry задаёт конфигурацию повторов при конфликтах версий.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) {
		if cfg.MaxAttempts > 0 {
			s.retry = cfg
		}
	}
}

// NewService создаёт сервис оформления заказов.
func NewService(
	uow domain.UnitOfWork,
	books domain.BookRepository,
	orders domain.OrderRepository,
	carts domain.CartRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	opts ...Option,
) *Service {
	s := &Service{
		uow:      uow,
		books:    books,
		orders:   orders,
		carts:    carts,
		outbox:   outbox,
		timeline: timeline,
		clock:    domain.SystemClock(),
		logger:   log.New().WithField("component", "checkout"),
		retry:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder размещает заказ: резервирует остаток по каждой позиции,
// снимает снапшот текущих цен и создаёт заказ в статусе pending — всё
// в одной транзакции. Повторный вызов с тем же ключом идемпотентности
// возвращает уже созданный заказ и не трогает остатки.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordPlacementStarted()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordPlacementFinished()
			s.metrics.RecordPlacementDuration(time.Since(start))
		}
	}()

	items, err := normalizeItems(req)
	if err != nil {
		return domain.Order{}, err
	}

	// Неизвестная книга отклоняется до открытия транзакции; авторитетное
	// чтение для резерва всё равно происходит внутри неё.
	for _, item := range items {
		if _, err := s.books.Get(item.BookID); err != nil {
			return domain.Order{}, err
		}
	}

	// Fast path: ключ уже знаком — возвращаем существующий заказ без транзакции.
	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(req.IdempotencyKey)
		if err == nil {
			s.recordIdempotentHit(existing.ID)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
	}

	var placed domain.Order
	delay := s.retry.InitialDelay
	for attempt := 1; ; attempt++ {
		placed, err = s.placeOnce(ctx, req, items)
		if err == nil {
			break
		}

		// Проигравший гонку за ключ идемпотентности возвращает заказ победителя.
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) && req.IdempotencyKey != "" {
			existing, getErr := s.orders.GetByIdempotencyKey(req.IdempotencyKey)
			if getErr != nil {
				return domain.Order{}, getErr
			}
			s.recordIdempotentHit(existing.ID)
			return existing, nil
		}

		if domain.IsVersionConflict(err) && s.metrics != nil {
			s.metrics.RecordVersionConflict()
		}
		if !shouldRetry(err) || attempt >= s.retry.MaxAttempts {
			s.recordPlacementFailure(err)
			return domain.Order{}, err
		}

		s.logger.WithError(err).WithFields(log.Fields{
			"user_id": req.UserID,
			"attempt": attempt,
		}).Warn("place order conflict, retrying")
		time.Sleep(delay)
		delay = s.retry.nextDelay(delay)
	}

	if s.metrics != nil {
		s.metrics.RecordOrderPlaced()
	}
	s.logger.WithFields(log.Fields{
		"order_id": placed.ID,
		"user_id":  placed.UserID,
		"total":    placed.Total.String(),
	}).Info("order placed")

	return placed, nil
}

// placeOnce выполняет одну транзакционную попытку размещения.
func (s *Service) placeOnce(ctx context.Context, req PlaceOrderRequest, items []PlaceOrderItem) (domain.Order, error) {
	var placed domain.Order

	err := s.uow.WithinTx(ctx, func(tx domain.TxRepos) error {
		now := s.clock.Now()

		// Книги резервируются по возрастанию ID: единый порядок блокировок
		// исключает deadlock между конкурентными заказами.
		ids := make([]string, 0, len(items))
		qtyByBook := make(map[string]int32, len(items))
		for _, item := range items {
			ids = append(ids, item.BookID)
			qtyByBook[item.BookID] = item.Qty
		}
		sort.Strings(ids)

		books := make(map[string]domain.Book, len(ids))
		for _, id := range ids {
			book, err := tx.Books().Get(id)
			if err != nil {
				return err
			}
			if err := book.Reserve(qtyByBook[id]); err != nil {
				return err
			}
			if err := tx.Books().Save(book); err != nil {
				return err
			}
			books[id] = book
		}

		order := domain.Order{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			Status:         domain.OrderStatusPending,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		total := domain.Money{}
		for _, item := range items {
			book := books[item.BookID]
			order.Items = append(order.Items, domain.OrderItem{
				ID:        uuid.NewString(),
				BookID:    item.BookID,
				Qty:       item.Qty,
				UnitPrice: book.Price,
				CreatedAt: now,
			})
			subtotal, err := book.Price.MulQty(item.Qty)
			if err != nil {
				return err
			}
			if total.Currency == "" {
				total = subtotal
			} else if total, err = total.Add(subtotal); err != nil {
				return err
			}
		}
		order.Total = total

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errs[0]
		}
		if err := tx.Orders().Create(order); err != nil {
			return err
		}

		if err := s.emitOrderEvent(tx, order, domain.EventOrderPlaced, "", now); err != nil {
			return err
		}

		placed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return placed, nil
}

// PlaceOrderFromCart размещает заказ из корзины пользователя и очищает её.
// Позиции и количества берутся из корзины, цены — актуальные из каталога
// на момент размещения.
func (s *Service) PlaceOrderFromCart(ctx context.Context, userID, idempotencyKey string) (domain.Order, error) {
	cart, err := s.carts.GetByUser(userID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	req := PlaceOrderRequest{
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
	}
	for _, line := range cart.Items {
		req.Items = append(req.Items, PlaceOrderItem{BookID: line.BookID, Qty: line.Qty})
	}

	order, err := s.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.clearCartAfterCheckout(cart, order); err != nil {
		// Заказ уже размещён; неочищенная корзина не ломает консистентность остатков.
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id":  userID,
			"order_id": order.ID,
		}).Warn("failed to clear cart after checkout")
	}

	return order, nil
}

// clearCartAfterCheckout очищает корзину с повторами на конфликтах версий
// и публикует событие checkout.
func (s *Service) clearCartAfterCheckout(cart domain.ShoppingCart, order domain.Order) error {
	delay := s.retry.InitialDelay
	for attempt := 1; ; attempt++ {
		now := s.clock.Now()
		cart.Clear(now)
		err := s.carts.Save(cart)
		if err == nil {
			break
		}
		if !domain.IsVersionConflict(err) || attempt >= s.retry.MaxAttempts {
			return err
		}
		fresh, getErr := s.carts.GetByUser(cart.UserID)
		if getErr != nil {
			return getErr
		}
		cart = fresh
		time.Sleep(delay)
		delay = s.retry.nextDelay(delay)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"cart_id":  cart.ID,
		"user_id":  cart.UserID,
		"order_id": order.ID,
		"ts":       s.clock.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "cart",
		AggregateID:   cart.ID,
		EventType:     domain.EventCartCheckedOut,
		Payload:       payload,
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
	return nil
}

// CancelOrder отменяет заказ и возвращает зарезервированный остаток
// по всем позициям в той же транзакции. Повторная отмена отклоняется
// машиной статусов.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error) {
	var canceled domain.Order

	err := s.withConflictRetry("cancel order", func() error {
		return s.uow.WithinTx(ctx, func(tx domain.TxRepos) error {
			now := s.clock.Now()

			order, err := tx.Orders().Get(orderID)
			if err != nil {
				return err
			}
			if err := order.TransitionTo(domain.OrderStatusCanceled, now); err != nil {
				return err
			}

			// Возврат остатка в том же порядке блокировок, что и резервирование.
			qtyByBook := make(map[string]int32)
			for _, item := range order.Items {
				qtyByBook[item.BookID] += item.Qty
			}
			ids := make([]string, 0, len(qtyByBook))
			for id := range qtyByBook {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				book, err := tx.Books().Get(id)
				if err != nil {
					return err
				}
				if err := book.Restock(qtyByBook[id]); err != nil {
					return err
				}
				if err := tx.Books().Save(book); err != nil {
					return err
				}
			}

			if err := tx.Orders().Save(order); err != nil {
				return err
			}
			if err := s.emitOrderEvent(tx, order, domain.EventOrderCanceled, reason, now); err != nil {
				return err
			}

			order.Version++
			canceled = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCanceled()
	}
	s.logger.WithFields(log.Fields{
		"order_id": canceled.ID,
		"reason":   reason,
	}).Info("order canceled")

	return canceled, nil
}

// UpdateOrderStatus переводит заказ в следующий статус по машине статусов.
// Переход в canceled идёт через CancelOrder, чтобы вернуть остаток.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	if next == domain.OrderStatusCanceled {
		return s.CancelOrder(ctx, orderID, "")
	}

	var updated domain.Order

	err := s.withConflictRetry("update order status", func() error {
		return s.uow.WithinTx(ctx, func(tx domain.TxRepos) error {
			now := s.clock.Now()

			order, err := tx.Orders().Get(orderID)
			if err != nil {
				return err
			}
			if err := order.TransitionTo(next, now); err != nil {
				return err
			}
			if err := tx.Orders().Save(order); err != nil {
				return err
			}
			if err := s.emitOrderEvent(tx, order, domain.EventOrderStatusChanged, "", now); err != nil {
				return err
			}

			order.Version++
			updated = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"status":   string(updated.Status),
	}).Info("order status updated")

	return updated, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// ListOrders возвращает заказы пользователя, свежие первыми.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.orders.ListByUser(userID, limit)
}

// OrderTimeline возвращает события жизненного цикла заказа.
func (s *Service) OrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return s.timeline.List(orderID)
}

// withConflictRetry повторяет fn при конфликтах версий с экспоненциальной задержкой.
func (s *Service) withConflictRetry(operation string, fn func() error) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordOperationDuration(operation, time.Since(start))
		}
	}()

	delay := s.retry.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if domain.IsVersionConflict(err) && s.metrics != nil {
			s.metrics.RecordVersionConflict()
		}
		if !shouldRetry(err) || attempt >= s.retry.MaxAttempts {
			return err
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
		}).Warn("conflict detected, retrying")
		time.Sleep(delay)
		delay = s.retry.nextDelay(delay)
	}
}

// emitOrderEvent кладёт событие заказа в outbox и timeline внутри транзакции.
func (s *Service) emitOrderEvent(tx domain.TxRepos, order domain.Order, eventType, reason string, now time.Time) error {
	payload := map[string]interface{}{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"status":      string(order.Status),
		"total_minor": order.Total.AmountMinor,
		"currency":    order.Total.Currency,
		"ts":          now.Format(time.RFC3339Nano),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return err
	}
	if err := tx.Timeline().Append(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: now,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
		s.metrics.RecordTimelineEvent()
	}
	return nil
}

// normalizeItems проверяет запрос и сливает дубликаты позиций по книге.
func normalizeItems(req PlaceOrderRequest) ([]PlaceOrderItem, error) {
	if req.UserID == "" {
		return nil, domain.ErrUserRequired
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	merged := make([]PlaceOrderItem, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		if item.BookID == "" {
			return nil, domain.ErrItemsRequired
		}
		if item.Qty <= 0 {
			return nil, domain.ErrItemQtyInvalid
		}
		if i, ok := index[item.BookID]; ok {
			merged[i].Qty += item.Qty
			continue
		}
		index[item.BookID] = len(merged)
		merged = append(merged, item)
	}

	return merged, nil
}

func (s *Service) recordIdempotentHit(orderID string) {
	if s.metrics != nil {
		s.metrics.RecordIdempotentHit()
	}
	s.logger.WithField("order_id", orderID).Debug("idempotent replay answered from existing order")
}

func (s *Service) recordPlacementFailure(err error) {
	if s.metrics == nil {
		return
	}
	if _, ok := domain.IsOutOfStock(err); ok {
		s.metrics.RecordOutOfStock()
	}
	s.metrics.RecordOrderFailed()
}
