package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы публикации OrderEvent.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// OrderMetrics содержит метрики сервиса заказов.
// Все методы безопасны для nil-получателя: компонент без метрик просто ничего не пишет.
type OrderMetrics struct {
	ordersCreated prometheus.Counter
	orderEvents   *prometheus.CounterVec
	paymentEvents *prometheus.CounterVec

	consumerRetries     prometheus.Counter
	consumerDeadLetters prometheus.Counter

	outboxAttempts         *prometheus.CounterVec
	outboxPending          prometheus.Gauge
	outboxOldestPendingAge prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в заданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		orderEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "order_events_total",
			Help: "Order events handed to the broker grouped by outcome",
		}, []string{"outcome"}),
		paymentEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment events processed grouped by status tag and outcome",
		}, []string{"status", "outcome"}),
		consumerRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payments_consumer_retries_total",
			Help: "Total number of payment message redeliveries after a handler error",
		}),
		consumerDeadLetters: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payments_consumer_dead_letters_total",
			Help: "Total number of payment messages routed to the dead-letter topic",
		}),
		outboxAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderEvent учитывает исход публикации OrderEvent.
func (m *OrderMetrics) RecordOrderEvent(outcome string) {
	if m == nil {
		return
	}
	m.orderEvents.WithLabelValues(outcome).Inc()
}

// RecordPaymentEvent учитывает обработанное событие платежа.
func (m *OrderMetrics) RecordPaymentEvent(status, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(status, outcome).Inc()
}

// RecordConsumerRetry увеличивает счётчик повторов обработки.
func (m *OrderMetrics) RecordConsumerRetry() {
	if m == nil {
		return
	}
	m.consumerRetries.Inc()
}

// RecordDeadLetter увеличивает счётчик сообщений, ушедших в DLQ.
func (m *OrderMetrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.consumerDeadLetters.Inc()
}

// RecordOutboxAttempt учитывает попытку публикации из outbox.
func (m *OrderMetrics) RecordOutboxAttempt(result string) {
	if m == nil {
		return
	}
	m.outboxAttempts.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст backlog outbox.
func (m *OrderMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxOldestPendingAge.Set(oldestAge.Seconds())
}

// ObserveHTTPRequest записывает запрос к REST API.
func (m *OrderMetrics) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
