package app

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/health"
)

type noopPaymentHandler struct{}

func (noopPaymentHandler) Handle(context.Context, domain.PaymentEvent) error { return nil }

func TestInitMessaging_DisabledWithoutBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka-disabled")

	msg := initMessaging(DefaultConfig(), nil, noopPaymentHandler{}, logger)
	if msg.orderPublisher != nil || msg.producer != nil || msg.dlqProducer != nil || msg.consumer != nil {
		t.Fatalf("expected no kafka components, got %+v", msg)
	}
	if !errors.Is(msg.initErr, errKafkaDisabled) {
		t.Fatalf("expected errKafkaDisabled, got %v", msg.initErr)
	}

	check := msg.checker().Check(context.Background())
	if check.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy kafka check, got %+v", check)
	}

	msg.close(logger)
}

func TestCloseHelpers_NilSafe(t *testing.T) {
	logger := log.WithField("test", "close")

	var msg *messaging
	msg.close(logger)
	closeKafkaProducer(nil, logger)

	var deps *runtimeDependencies
	deps.close(logger)
}
