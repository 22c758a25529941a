package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer: синхронный Kafka producer: DLQ, outbox relay, переобработка DLQ.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

func newSyncConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer создает producer с партиционированием по ключу.
func NewProducer(brokers []string) (*Producer, error) {
	return newProducer(brokers, newSyncConfig(), "kafka-producer")
}

// NewDLQProducer создает producer, который пишет в явно указанную партицию.
// Сообщение DLQ попадает в партицию с тем же номером, что и исходное.
func NewDLQProducer(brokers []string) (*Producer, error) {
	config := newSyncConfig()
	config.Producer.Partitioner = sarama.NewManualPartitioner
	return newProducer(brokers, config, "kafka-dlq-producer")
}

func newProducer(brokers []string, config *sarama.Config, component string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", component),
	}, nil
}

// PublishEvent сериализует событие в JSON и публикует его.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.PublishRaw(topic, key, eventData)
}

// PublishRaw публикует готовый payload.
func (p *Producer) PublishRaw(topic, key string, payload []byte) error {
	return p.Send(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	})
}

// Send публикует сообщение как есть: с заголовками и, для DLQ, с явной партицией.
func (p *Producer) Send(msg *sarama.ProducerMessage) error {
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": msg.Topic,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
