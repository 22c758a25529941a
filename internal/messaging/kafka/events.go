package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

// Topics по умолчанию.
const (
	TopicOrders       = "orders"
	TopicPayments     = "payments"
	TopicDeadPayments = "dead-payments"
	TopicDeadOrders   = "dead-orders"
)

// Kafka headers для retry и DLQ.
const (
	HeaderRetryCount        = "x-retry-count"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorMessage      = "x-error-message"
	HeaderFailedAt          = "x-failed-at"
)

// EventTypeOrderCreated: тип outbox-сообщения для OrderEvent.
const EventTypeOrderCreated = "order.created"

// OrderMessage: JSON-представление OrderEvent в топике заказов.
type OrderMessage struct {
	OrderID       string      `json:"orderId"`
	UserID        string      `json:"userId"`
	PaymentAmount json.Number `json:"paymentAmount"`
}

// PaymentMessage: JSON-представление PaymentEvent в топике платежей.
type PaymentMessage struct {
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
}

// EncodeOrderEvent сериализует событие; сумма пишется числом с двумя знаками.
func EncodeOrderEvent(event domain.OrderEvent) ([]byte, error) {
	payload, err := json.Marshal(OrderMessage{
		OrderID:       event.OrderID,
		UserID:        event.UserID,
		PaymentAmount: json.Number(event.PaymentAmount.StringFixed(2)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return payload, nil
}

// ParsePaymentEvent разбирает PaymentEvent из сообщения.
// Ошибки разбора помечены как постоянные: такое сообщение не станет валидным при повторе.
func ParsePaymentEvent(message *sarama.ConsumerMessage) (domain.PaymentEvent, error) {
	var raw PaymentMessage
	if err := json.Unmarshal(message.Value, &raw); err != nil {
		return domain.PaymentEvent{}, Permanent(fmt.Errorf("failed to unmarshal payment event: %w", err))
	}
	if strings.TrimSpace(raw.OrderID) == "" {
		return domain.PaymentEvent{}, Permanent(fmt.Errorf("payment event without orderId"))
	}
	status := domain.ParsePaymentStatus(raw.PaymentStatus)
	if status.Kind() == domain.PaymentStatusCreated && strings.TrimSpace(raw.PaymentID) == "" {
		return domain.PaymentEvent{}, Permanent(fmt.Errorf("created payment event for order %s without paymentId", raw.OrderID))
	}
	return domain.PaymentEvent{
		PaymentID: raw.PaymentID,
		OrderID:   raw.OrderID,
		Status:    status,
	}, nil
}

// permanentError: ошибка, которую бессмысленно ретраить.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как постоянную: consumer отправит сообщение в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var permanent *permanentError
	return errors.As(err, &permanent)
}

func headerValue(headers []*sarama.RecordHeader, key string) (string, bool) {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value), true
		}
	}
	return "", false
}
