package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

// recordingSender запоминает DLQ-сообщения.
type recordingSender struct {
	mu   sync.Mutex
	sent []*sarama.ProducerMessage
	err  error
}

func (s *recordingSender) Send(msg *sarama.ProducerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func headerOf(msg *sarama.ProducerMessage, key string) string {
	for _, header := range msg.Headers {
		if string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func paymentMessage(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     TopicPayments,
		Partition: 2,
		Offset:    offset,
		Key:       []byte("order-1"),
		Value:     []byte(`{"paymentId":"p-1","orderId":"order-1","paymentStatus":"CREATED"}`),
		Headers:   []*sarama.RecordHeader{{Key: []byte("trace"), Value: []byte("abc")}},
	}
}

func runClaim(t *testing.T, consumer *Consumer, messages ...*sarama.ConsumerMessage) *mockSession {
	t.Helper()

	session := &mockSession{ctx: context.Background()}
	claim := &mockClaim{topic: TopicPayments, partition: 2, messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, msg := range messages {
		claim.messages <- msg
	}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	return session
}

func TestNewConsumerError(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "payments1", []string{TopicPayments}, handler); err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestNewConsumerDefaultsAndOptions(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }

	c := newConsumer(&mockConsumerGroup{}, []string{TopicPayments}, handler)
	if c.maxRetries != 3 || c.retryDelay != time.Second || c.dlqTopic != TopicDeadPayments {
		t.Fatalf("unexpected defaults: retries=%d delay=%s dlq=%s", c.maxRetries, c.retryDelay, c.dlqTopic)
	}

	sender := &recordingSender{}
	c = newConsumer(&mockConsumerGroup{}, []string{TopicPayments}, handler,
		WithRetry(5, 10*time.Millisecond),
		WithDeadLetter(sender, "custom-dlq"),
	)
	if c.maxRetries != 5 || c.retryDelay != 10*time.Millisecond || c.dlqTopic != "custom-dlq" || c.dlq != sender {
		t.Fatalf("options were not applied: %+v", c)
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newConsumer(group, []string{TopicPayments}, func(context.Context, *sarama.ConsumerMessage) error { return nil })

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumeClaim_SuccessMarksMessage(t *testing.T) {
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error { return nil })

	session := runClaim(t, consumer, paymentMessage(1), paymentMessage(2))
	if len(session.marked) != 2 {
		t.Fatalf("expected two marked messages, got %d", len(session.marked))
	}
}

func TestConsumeClaim_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	sender := &recordingSender{}
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		if attempts < 3 {
			return errors.New("storage is down")
		}
		return nil
	}, WithRetry(3, 0), WithDeadLetter(sender, ""))

	session := runClaim(t, consumer, paymentMessage(7))
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected message to be marked after success, got %d", len(session.marked))
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing must reach DLQ, got %d", len(sender.sent))
	}
}

func TestConsumeClaim_ExhaustedRetriesGoToDLQ(t *testing.T) {
	registry := prometheus.NewRegistry()
	attempts := 0
	sender := &recordingSender{}
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		return errors.New("storage is down")
	},
		WithRetry(3, 0),
		WithDeadLetter(sender, TopicDeadPayments),
		WithConsumerMetrics(metrics.NewOrderMetricsWithRegisterer(registry)),
	)

	source := paymentMessage(42)
	session := runClaim(t, consumer, source)

	if attempts != 4 {
		t.Fatalf("expected first attempt plus 3 retries, got %d", attempts)
	}
	if len(session.marked) != 1 {
		t.Fatalf("message must be marked after DLQ publish, got %d", len(session.marked))
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one DLQ message, got %d", len(sender.sent))
	}

	dlq := sender.sent[0]
	if dlq.Topic != TopicDeadPayments || dlq.Partition != source.Partition {
		t.Fatalf("unexpected DLQ destination: %s/%d", dlq.Topic, dlq.Partition)
	}
	value, _ := dlq.Value.Encode()
	key, _ := dlq.Key.Encode()
	if string(value) != string(source.Value) || string(key) != "order-1" {
		t.Fatalf("DLQ must keep original key and value: key=%s value=%s", key, value)
	}
	if headerOf(dlq, "trace") != "abc" {
		t.Fatal("original headers must be preserved")
	}
	if headerOf(dlq, HeaderOriginalTopic) != TopicPayments ||
		headerOf(dlq, HeaderOriginalPartition) != "2" ||
		headerOf(dlq, HeaderOriginalOffset) != "42" ||
		headerOf(dlq, HeaderRetryCount) != "3" ||
		headerOf(dlq, HeaderErrorMessage) != "storage is down" {
		t.Fatalf("unexpected DLQ headers: %+v", dlq.Headers)
	}
	if _, err := time.Parse(time.RFC3339, headerOf(dlq, HeaderFailedAt)); err != nil {
		t.Fatalf("failed-at header must be RFC3339: %v", err)
	}
}

func TestConsumeClaim_PermanentErrorSkipsRetries(t *testing.T) {
	sender := &recordingSender{}
	consumer := newConsumer(nil, nil, NewPaymentMessageHandler(nil), WithRetry(3, time.Hour), WithDeadLetter(sender, ""))

	poison := &sarama.ConsumerMessage{Topic: TopicPayments, Partition: 0, Offset: 1, Value: []byte("{not json")}
	session := runClaim(t, consumer, poison)

	if len(sender.sent) != 1 {
		t.Fatalf("poison message must go straight to DLQ, got %d", len(sender.sent))
	}
	if headerOf(sender.sent[0], HeaderRetryCount) != "0" {
		t.Fatalf("expected zero retries, got %s", headerOf(sender.sent[0], HeaderRetryCount))
	}
	if sender.sent[0].Key != nil {
		t.Fatal("nil source key must stay nil")
	}
	if len(session.marked) != 1 {
		t.Fatalf("poison message must be marked after DLQ, got %d", len(session.marked))
	}
}

func TestConsumeClaim_DLQFailureLeavesOffsetUnmarked(t *testing.T) {
	sender := &recordingSender{err: sarama.ErrOutOfBrokers}
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("boom")
	}, WithRetry(0, 0), WithDeadLetter(sender, ""))

	session := runClaim(t, consumer, paymentMessage(3))
	if len(session.marked) != 0 {
		t.Fatalf("message must not be marked when DLQ publish fails, got %d", len(session.marked))
	}
}

func TestConsumeClaim_CancelDuringRetryDoesNotMark(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		select {
		case started <- struct{}{}:
		default:
		}
		return errors.New("boom")
	}, WithRetry(3, time.Hour), WithDeadLetter(&recordingSender{}, ""))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPayments, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentMessage(9)

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
	if len(session.marked) != 0 {
		t.Fatalf("cancelled message must not be marked, got %d", len(session.marked))
	}
}

func TestConsumeClaim_NoDLQSkipsMessage(t *testing.T) {
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("boom")
	}, WithRetry(1, 0))

	session := runClaim(t, consumer, paymentMessage(1))
	if len(session.marked) != 1 {
		t.Fatalf("without DLQ the message is logged and skipped, got %d marked", len(session.marked))
	}
}

func TestDLQProducerKeepsPartition(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewManualPartitioner

	mockProducer := mocks.NewSyncProducer(t, config)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Partition != 2 {
			return fmt.Errorf("expected partition 2, got %d", msg.Partition)
		}
		return nil
	})

	producer := &Producer{producer: mockProducer, logger: log.WithField("test", "dlq")}
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("boom")
	}, WithRetry(0, 0), WithDeadLetter(producer, TopicDeadPayments))

	session := runClaim(t, consumer, paymentMessage(5))
	if len(session.marked) != 1 {
		t.Fatalf("expected marked message, got %d", len(session.marked))
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRetryCount(t *testing.T) {
	headers := []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}
	if got := RetryCount(headers); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}
	if got := RetryCount([]*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}
	if got := RetryCount(nil); got != 0 {
		t.Fatalf("missing header should give 0, got %d", got)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPayments, partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
