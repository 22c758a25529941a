package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Payload уходит в топик без обёртки: потребители видят тот же формат, что и при прямой публикации.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrders
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	return p.producer.PublishRaw(p.topic, key, msg.Payload)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
