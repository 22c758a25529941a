// Package payments применяет события платёжной подсистемы к заказам.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
)

// Исходы обработки события для метрик.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeMissing   = "order_missing"
	outcomeIgnored   = "ignored"
	outcomeError     = "error"
)

// Processor разбирает PaymentEvent по тегу статуса.
//
// Бизнес-no-op (повторный платёж, неизвестный статус, отсутствующий заказ) логируется
// и возвращает nil. Ошибки хранилища возвращаются как есть: consumer повторит доставку.
type Processor struct {
	orders  domain.OrderRepository
	metrics *metrics.OrderMetrics
	logger  *log.Entry
}

// NewProcessor создаёт обработчик событий платежей.
func NewProcessor(orders domain.OrderRepository, m *metrics.OrderMetrics, logger *log.Entry) *Processor {
	if logger == nil {
		logger = log.WithField("component", "payment-processor")
	}
	return &Processor{orders: orders, metrics: m, logger: logger}
}

// Handle применяет событие к заказу.
func (p *Processor) Handle(ctx context.Context, event domain.PaymentEvent) error {
	fields := log.Fields{
		"order_id":       event.OrderID,
		"payment_id":     event.PaymentID,
		"payment_status": event.Status.String(),
	}

	var (
		outcome string
		err     error
	)
	switch event.Status.Kind() {
	case domain.PaymentStatusCreated:
		outcome, err = p.attachPayment(ctx, event, fields)
	case domain.PaymentStatusSuccess:
		outcome, err = p.startProcessing(ctx, event, fields)
	default:
		p.logger.WithFields(fields).Info("payment status is not handled, event discarded")
		outcome = outcomeIgnored
	}

	if err != nil {
		p.metrics.RecordPaymentEvent(event.Status.Kind().String(), outcomeError)
		return err
	}
	p.metrics.RecordPaymentEvent(event.Status.Kind().String(), outcome)
	return nil
}

func (p *Processor) attachPayment(ctx context.Context, event domain.PaymentEvent, fields log.Fields) (string, error) {
	// Пустой id нельзя привязать: HasPayment не отличит его от отсутствия платежа.
	if strings.TrimSpace(event.PaymentID) == "" {
		return "", domain.NewError(domain.ErrValidation, "payment event for order %s has no paymentId", event.OrderID)
	}
	order, err := p.orders.Get(ctx, event.OrderID)
	if err != nil {
		return p.missingOrStorage(err, fields, "cannot find order for attaching payment")
	}
	if order.HasPayment() {
		p.logger.WithFields(fields).WithField("attached_payment_id", order.PaymentID).
			Error("payment already attached to order")
		return outcomeDuplicate, nil
	}

	// Условная запись защищает от параллельной повторной доставки между Get и записью.
	err = p.orders.AttachPayment(ctx, event.OrderID, event.PaymentID, domain.OrderStatusToPay)
	switch {
	case err == nil:
		p.logger.WithFields(fields).Info("payment attached to order")
		return outcomeApplied, nil
	case errors.Is(err, domain.ErrPaymentAlreadyAttached):
		p.logger.WithFields(fields).Error("payment already attached to order")
		return outcomeDuplicate, nil
	default:
		return p.missingOrStorage(err, fields, "cannot find order for attaching payment")
	}
}

func (p *Processor) startProcessing(ctx context.Context, event domain.PaymentEvent, fields log.Fields) (string, error) {
	order, err := p.orders.Get(ctx, event.OrderID)
	if err != nil {
		return p.missingOrStorage(err, fields, "cannot find order for starting processing")
	}
	if !order.HasPayment() {
		p.logger.WithFields(fields).Warn("payment success arrived before payment was attached")
	}

	if err := p.orders.UpdateStatus(ctx, event.OrderID, domain.OrderStatusInProgress); err != nil {
		return p.missingOrStorage(err, fields, "cannot find order for starting processing")
	}
	p.logger.WithFields(fields).Info("order was successfully paid")
	return outcomeApplied, nil
}

func (p *Processor) missingOrStorage(err error, fields log.Fields, message string) (string, error) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		p.logger.WithFields(fields).Error(message)
		return outcomeMissing, nil
	}
	return "", fmt.Errorf("apply payment event to order %v: %w", fields["order_id"], err)
}
