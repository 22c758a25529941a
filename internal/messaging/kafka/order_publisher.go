package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
)

const defaultPublishQueueSize = 256

// OrderEventPublisher публикует OrderEvent через sarama.AsyncProducer.
// Publish кладёт событие в очередь и сразу возвращается; исход попадает только в лог и метрики.
type OrderEventPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	metrics  *metrics.OrderMetrics
	logger   *log.Entry

	// mu охраняет closed: отправка в queue идёт под RLock, закрытие под Lock.
	mu     sync.RWMutex
	closed bool
	queue  chan *sarama.ProducerMessage
	wg     sync.WaitGroup
}

// NewAsyncConfig возвращает конфиг producer-а событий заказа.
func NewAsyncConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	return config
}

// NewOrderEventPublisher подключается к брокерам и запускает фоновую отправку.
func NewOrderEventPublisher(brokers []string, topic string, m *metrics.OrderMetrics) (*OrderEventPublisher, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewAsyncConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka async producer: %w", err)
	}
	return NewOrderEventPublisherFromProducer(producer, topic, m), nil
}

// NewOrderEventPublisherFromProducer оборачивает готовый AsyncProducer.
// Producer должен быть сконфигурирован с Return.Successes и Return.Errors.
func NewOrderEventPublisherFromProducer(producer sarama.AsyncProducer, topic string, m *metrics.OrderMetrics) *OrderEventPublisher {
	if topic == "" {
		topic = TopicOrders
	}
	p := &OrderEventPublisher{
		producer: producer,
		topic:    topic,
		metrics:  m,
		logger:   log.WithField("component", "order-event-publisher"),
		queue:    make(chan *sarama.ProducerMessage, defaultPublishQueueSize),
	}

	p.wg.Add(3)
	go p.forward()
	go p.drainSuccesses()
	go p.drainErrors()
	return p
}

// Publish ставит событие в очередь на отправку. При переполненной очереди событие
// отбрасывается с записью в лог: путь запроса не ждёт брокер.
func (p *OrderEventPublisher) Publish(_ context.Context, event domain.OrderEvent) {
	payload, err := EncodeOrderEvent(event)
	if err != nil {
		p.logger.WithError(err).WithField("order_id", event.OrderID).Error("failed to encode order event")
		p.metrics.RecordOrderEvent(metrics.OutcomeFailed)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.OrderID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
		Metadata:  event.OrderID,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.WithField("order_id", event.OrderID).Warn("order event publisher is closed, event dropped")
		p.metrics.RecordOrderEvent(metrics.OutcomeDropped)
		return
	}

	select {
	case p.queue <- msg:
	default:
		p.logger.WithField("order_id", event.OrderID).Error("order event queue is full, event dropped")
		p.metrics.RecordOrderEvent(metrics.OutcomeDropped)
	}
}

// Close дожидается отправки очереди, закрывает producer и ждёт все подтверждения.
func (p *OrderEventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("order event publisher stopped")
	return nil
}

func (p *OrderEventPublisher) forward() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.producer.Input() <- msg
	}
	// После AsyncClose producer закрывает каналы Successes и Errors.
	p.producer.AsyncClose()
}

func (p *OrderEventPublisher) drainSuccesses() {
	defer p.wg.Done()
	for msg := range p.producer.Successes() {
		p.logger.WithFields(log.Fields{
			"order_id":  orderIDOf(msg),
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Info("order event published")
		p.metrics.RecordOrderEvent(metrics.OutcomePublished)
	}
}

func (p *OrderEventPublisher) drainErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		p.logger.WithError(perr.Err).WithField("order_id", orderIDOf(perr.Msg)).Error("failed to publish order event")
		p.metrics.RecordOrderEvent(metrics.OutcomeFailed)
	}
}

func orderIDOf(msg *sarama.ProducerMessage) string {
	if msg == nil {
		return ""
	}
	if id, ok := msg.Metadata.(string); ok {
		return id
	}
	return ""
}

var _ domain.EventPublisher = (*OrderEventPublisher)(nil)
