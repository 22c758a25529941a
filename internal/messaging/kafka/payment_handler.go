package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

// PaymentEventHandler применяет событие платежа к заказу.
type PaymentEventHandler interface {
	Handle(ctx context.Context, event domain.PaymentEvent) error
}

// NewPaymentMessageHandler связывает разбор сообщения из топика платежей с обработчиком.
// Ошибки валидации события считаются постоянными.
func NewPaymentMessageHandler(handler PaymentEventHandler) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentEvent(message)
		if err != nil {
			return err
		}
		if err := handler.Handle(ctx, event); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return Permanent(err)
			}
			return err
		}
		return nil
	}
}
