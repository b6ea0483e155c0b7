package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики для операций оформления заказов.
type CheckoutMetrics struct {
	// Счётчики операций
	ordersPlaced     prometheus.Counter
	ordersCanceled   prometheus.Counter
	ordersFailed     prometheus.Counter
	outOfStock       prometheus.Counter
	versionConflicts prometheus.Counter
	idempotentHits   prometheus.Counter

	// Гистограммы времени выполнения
	placementDuration prometheus.Histogram
	operationDuration *prometheus.HistogramVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для заказов в обработке
	activePlacements prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик оформления заказов.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_orders_canceled_total",
			Help: "Total number of orders canceled",
		}),
		ordersFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_orders_failed_total",
			Help: "Total number of order placements that failed",
		}),
		outOfStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_out_of_stock_total",
			Help: "Total number of placements rejected for insufficient stock",
		}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_version_conflicts_total",
			Help: "Total number of optimistic lock conflicts observed",
		}),
		idempotentHits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_idempotent_hits_total",
			Help: "Total number of placements answered from an existing order by idempotency key",
		}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "bookstore_placement_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "bookstore_operation_duration_seconds",
			Help:    "Duration of individual checkout operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bookstore_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		activePlacements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "bookstore_active_placements",
			Help: "Number of order placements currently in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced увеличивает счётчик размещённых заказов.
func (m *CheckoutMetrics) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *CheckoutMetrics) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// RecordOrderFailed увеличивает счётчик неудачных размещений.
func (m *CheckoutMetrics) RecordOrderFailed() {
	m.ordersFailed.Inc()
}

// RecordOutOfStock увеличивает счётчик отказов из-за нехватки остатка.
func (m *CheckoutMetrics) RecordOutOfStock() {
	m.outOfStock.Inc()
}

// RecordVersionConflict увеличивает счётчик конфликтов optimistic locking.
func (m *CheckoutMetrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

// RecordIdempotentHit увеличивает счётчик повторов, отвеченных существующим заказом.
func (m *CheckoutMetrics) RecordIdempotentHit() {
	m.idempotentHits.Inc()
}

// RecordPlacementStarted увеличивает количество размещений в обработке.
func (m *CheckoutMetrics) RecordPlacementStarted() {
	m.activePlacements.Inc()
}

// RecordPlacementFinished уменьшает количество размещений в обработке.
func (m *CheckoutMetrics) RecordPlacementFinished() {
	m.activePlacements.Dec()
}

// RecordPlacementDuration записывает время размещения заказа.
func (m *CheckoutMetrics) RecordPlacementDuration(duration time.Duration) {
	m.placementDuration.Observe(duration.Seconds())
}

// RecordOperationDuration записывает время выполнения отдельной операции.
func (m *CheckoutMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
