package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// MessageSender отправляет готовое сообщение; реализуется Producer.
type MessageSender interface {
	Send(msg *sarama.ProducerMessage) error
}

// Consumer представляет Kafka consumer с повторами и DLQ.
//
// Ошибка обработчика повторяется на месте до maxRetries раз с паузой retryDelay,
// после чего сообщение уходит в DLQ. Постоянные ошибки (см. Permanent) уходят в DLQ сразу.
// Offset помечается только после успешной обработки или успешной записи в DLQ.
type Consumer struct {
	consumer   sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	wg         sync.WaitGroup
	dlq        MessageSender
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.OrderMetrics
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter задаёт producer и топик DLQ.
func WithDeadLetter(sender MessageSender, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = sender
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithRetry задаёт число повторов после первой попытки и паузу между ними.
func WithRetry(maxRetries int, delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithConsumerMetrics подключает метрики повторов и DLQ.
func WithConsumerMetrics(m *metrics.OrderMetrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer создает consumer group для заданных топиков.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		dlqTopic:   TopicDeadPayments,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения одной partition строго по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Debug("received message")

			if !c.handleMessage(session.Context(), message) {
				// Без отметки offset сообщение будет прочитано заново после rebalance или рестарта.
				if session.Context().Err() != nil {
					return nil
				}
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage возвращает true, если offset можно помечать.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}

	retries := 0
	var err error
	for {
		err = c.handler(ctx, message)
		if err == nil {
			return true
		}

		if IsPermanent(err) {
			c.logger.WithError(err).WithFields(fields).Error("message cannot be processed, sending to DLQ")
			break
		}
		if retries >= c.maxRetries {
			c.logger.WithError(err).WithFields(fields).WithField("retry_count", retries).Error("message processing failed after all retries")
			break
		}

		retries++
		c.metrics.RecordConsumerRetry()
		c.logger.WithError(err).WithFields(fields).WithFields(log.Fields{
			"retry_count": retries,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if !sleepCtx(ctx, c.retryDelay) {
			return false
		}
	}

	if c.dlq == nil {
		c.logger.WithFields(fields).Error("no DLQ configured, message skipped")
		return true
	}
	if dlqErr := c.sendToDLQ(message, err, retries); dlqErr != nil {
		c.logger.WithError(dlqErr).WithFields(fields).Error("failed to send message to DLQ")
		return false
	}

	c.metrics.RecordDeadLetter()
	c.logger.WithFields(fields).WithField("retry_count", retries).Info("message sent to DLQ")
	return true
}

// sendToDLQ пересылает исходные key/value/headers в ту же partition DLQ-топика
// и добавляет заголовки с причиной.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retries int) error {
	return c.dlq.Send(DeadLetterMessage(c.dlqTopic, message, processingErr, retries, time.Now().UTC()))
}

// DeadLetterMessage строит DLQ-запись для сообщения.
func DeadLetterMessage(topic string, message *sarama.ConsumerMessage, processingErr error, retries int, failedAt time.Time) *sarama.ProducerMessage {
	replaced := map[string]string{
		HeaderOriginalTopic:     message.Topic,
		HeaderOriginalPartition: strconv.FormatInt(int64(message.Partition), 10),
		HeaderOriginalOffset:    strconv.FormatInt(message.Offset, 10),
		HeaderErrorMessage:      processingErr.Error(),
		HeaderFailedAt:          failedAt.Format(time.RFC3339),
		HeaderRetryCount:        strconv.Itoa(retries),
	}

	headers := make([]sarama.RecordHeader, 0, len(message.Headers)+len(replaced))
	for _, header := range message.Headers {
		if header == nil {
			continue
		}
		if _, ok := replaced[string(header.Key)]; ok {
			continue
		}
		headers = append(headers, *header)
	}
	for _, key := range []string{
		HeaderOriginalTopic,
		HeaderOriginalPartition,
		HeaderOriginalOffset,
		HeaderErrorMessage,
		HeaderFailedAt,
		HeaderRetryCount,
	} {
		headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(replaced[key])})
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Partition: message.Partition,
		Value:     sarama.ByteEncoder(message.Value),
		Headers:   headers,
		Timestamp: failedAt,
	}
	if message.Key != nil {
		msg.Key = sarama.ByteEncoder(message.Key)
	}
	return msg
}

// RetryCount извлекает x-retry-count из заголовков.
func RetryCount(headers []*sarama.RecordHeader) int {
	raw, ok := headerValue(headers, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return count
}

func sleepCtx(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
