package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderPlaced        EventType = "order.placed"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCanceled      EventType = "order.canceled"

	// Cart события
	EventTypeCartCheckedOut EventType = "cart.checked_out"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "bookstore.order.events"
	TopicDeadLetterQueue = "bookstore.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	UserID     string                 `json:"user_id"`
	Status     string                 `json:"status"`
	TotalMinor int64                  `json:"total_minor"`
	Currency   string                 `json:"currency"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// CartEvent представляет событие корзины
type CartEvent struct {
	EventType EventType `json:"event_type"`
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, totalMinor int64, currency string) *OrderEvent {
	return &OrderEvent{
		EventType:  eventType,
		OrderID:    orderID,
		UserID:     userID,
		Status:     status,
		TotalMinor: totalMinor,
		Currency:   currency,
		Timestamp:  time.Now().UTC(),
	}
}

// NewCartEvent создает новое событие корзины
func NewCartEvent(eventType EventType, cartID, userID, orderID string) *CartEvent {
	return &CartEvent{
		EventType: eventType,
		CartID:    cartID,
		UserID:    userID,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
}
