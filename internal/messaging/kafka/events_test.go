package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

func TestEncodeOrderEvent(t *testing.T) {
	payload, err := EncodeOrderEvent(domain.OrderEvent{
		OrderID:       "o-1",
		UserID:        "u-1",
		PaymentAmount: decimal.RequireFromString("10.5"),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"orderId":"o-1","userId":"u-1","paymentAmount":10.50}`
	if string(payload) != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", payload, want)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	event, err := ParsePaymentEvent(&sarama.ConsumerMessage{
		Value: []byte(`{"paymentId":"p-1","orderId":"o-1","paymentStatus":"success"}`),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.PaymentID != "p-1" || event.OrderID != "o-1" || event.Status.Kind() != domain.PaymentStatusSuccess {
		t.Fatalf("unexpected event: %+v", event)
	}

	unknown, err := ParsePaymentEvent(&sarama.ConsumerMessage{
		Value: []byte(`{"paymentId":"p-1","orderId":"o-1","paymentStatus":"REFUNDED"}`),
	})
	if err != nil {
		t.Fatalf("unknown status is not a decode error: %v", err)
	}
	if unknown.Status.Kind() != domain.PaymentStatusOther || unknown.Status.Raw() != "REFUNDED" {
		t.Fatalf("unexpected status: %s", unknown.Status)
	}

	for _, raw := range []string{
		"{",
		`{"paymentId":"p-1"}`,
		`{"orderId":"o-1","paymentStatus":"created"}`,
		`{"paymentId":" ","orderId":"o-1","paymentStatus":"CREATED"}`,
	} {
		_, err := ParsePaymentEvent(&sarama.ConsumerMessage{Value: []byte(raw)})
		var permanent *permanentError
		if !errors.As(err, &permanent) {
			t.Fatalf("expected permanent error for %s, got %v", raw, err)
		}
	}
}

func TestParsePaymentEvent_SuccessWithoutPaymentID(t *testing.T) {
	event, err := ParsePaymentEvent(&sarama.ConsumerMessage{
		Value: []byte(`{"orderId":"o-1","paymentStatus":"success"}`),
	})
	if err != nil {
		t.Fatalf("success event does not need paymentId: %v", err)
	}
	if event.Status.Kind() != domain.PaymentStatusSuccess {
		t.Fatalf("unexpected status: %s", event.Status)
	}
}

type stubPaymentHandler struct {
	err    error
	called bool
}

func (h *stubPaymentHandler) Handle(context.Context, domain.PaymentEvent) error {
	h.called = true
	return h.err
}

func TestPaymentMessageHandler_ErrorClassification(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(`{"paymentId":"p-1","orderId":"o-1","paymentStatus":"created"}`)}

	validation := &stubPaymentHandler{err: domain.NewError(domain.ErrValidation, "bad event")}
	if err := NewPaymentMessageHandler(validation)(context.Background(), message); !IsPermanent(err) {
		t.Fatalf("validation error must be permanent, got %v", err)
	}

	storageErr := errors.New("connection reset")
	storage := &stubPaymentHandler{err: storageErr}
	err := NewPaymentMessageHandler(storage)(context.Background(), message)
	if !errors.Is(err, storageErr) || IsPermanent(err) {
		t.Fatalf("storage error must stay retryable, got %v", err)
	}

	blank := &stubPaymentHandler{}
	err = NewPaymentMessageHandler(blank)(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"paymentId":"","orderId":"o-1","paymentStatus":"created"}`),
	})
	if !IsPermanent(err) || blank.called {
		t.Fatalf("blank paymentId must be rejected before dispatch: err=%v called=%v", err, blank.called)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
	base := errors.New("bad payload")
	if err := Permanent(base); !errors.Is(err, base) || err.Error() != "bad payload" {
		t.Fatalf("Permanent must wrap the cause: %v", err)
	}
}
