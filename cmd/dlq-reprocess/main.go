package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers       []string
	sourceTopic   string
	paymentsTopic string
	ordersTopic   string
	limit         int
	maxRetryCount int
	execute       bool
	fromNewest    bool
	idleTimeout   time.Duration
}

type replayMessage struct {
	topic   string
	key     []byte
	value   []byte
	headers []sarama.RecordHeader
}

// outboxDLQRecord: запись outbox-воркера в dead-orders.
type outboxDLQRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// dlqHeaders добавляет consumer при переносе в DLQ, в replay они не уходят.
var dlqHeaders = map[string]struct{}{
	kafka.HeaderOriginalTopic:     {},
	kafka.HeaderOriginalPartition: {},
	kafka.HeaderOriginalOffset:    {},
	kafka.HeaderErrorMessage:      {},
	kafka.HeaderFailedAt:          {},
	kafka.HeaderRetryCount:        {},
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayProducer реализуется kafka.Producer.
type replayProducer interface {
	kafka.MessageSender
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadPayments, "DLQ source topic (dead-payments or dead-orders)")
	flag.StringVar(&cfg.paymentsTopic, "payments-topic", kafka.TopicPayments, "fallback topic for records without x-original-topic")
	flag.StringVar(&cfg.ordersTopic, "orders-topic", kafka.TopicOrders, "target topic for outbox dead letters")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.IntVar(&cfg.maxRetryCount, "max-retry-count", 0, "skip records whose x-retry-count is above this value; 0 disables the filter")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(cfg.paymentsTopic) == "" {
		return config{}, fmt.Errorf("payments-topic is required")
	}
	if strings.TrimSpace(cfg.ordersTopic) == "" {
		return config{}, fmt.Errorf("orders-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.maxRetryCount < 0 {
		return config{}, fmt.Errorf("max-retry-count must be >= 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic":   cfg.sourceTopic,
		"payments_topic": cfg.paymentsTopic,
		"orders_topic":   cfg.ordersTopic,
		"limit":          cfg.limit,
		"execute":        cfg.execute,
		"from_newest":    cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total partitionStats
	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		if err != nil {
			return err
		}

		total.processed += stats.processed
		total.replayed += stats.replayed
		total.skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}
			replay, ok, err := extractReplayMessage(msg, cfg)
			if err != nil {
				stats.skipped++
				log.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
			} else if !ok {
				stats.skipped++
				log.WithFields(fields).Debug("skip dlq message")
			} else if cfg.execute {
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			} else {
				fields["target_topic"] = replay.topic
				fields["key"] = string(replay.key)
				log.WithFields(fields).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Value:     sarama.ByteEncoder(msg.value),
		Headers:   msg.headers,
		Timestamp: time.Now().UTC(),
	}
	if msg.key != nil {
		producerMessage.Key = sarama.ByteEncoder(msg.key)
	}
	return producer.Send(producerMessage)
}

// extractReplayMessage различает два вида DLQ-записей.
// Запись consumer'а платежей несёт x-original-topic и исходные key/value.
// Запись outbox-воркера: JSON c outbox_id и исходным OrderEvent в payload.
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg config) (replayMessage, bool, error) {
	if topic, ok := header(msg.Headers, kafka.HeaderOriginalTopic); ok {
		return extractConsumerRecord(msg, topic, cfg)
	}

	var record outboxDLQRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		return replayMessage{}, false, nil
	}
	if record.OutboxID == "" && record.EventType == "" {
		return replayMessage{}, false, nil
	}
	if record.EventType != "" && record.EventType != kafka.EventTypeOrderCreated {
		return replayMessage{}, false, fmt.Errorf("unsupported outbox event type %q", record.EventType)
	}
	if len(record.Payload) == 0 || string(record.Payload) == "null" {
		return replayMessage{}, false, fmt.Errorf("outbox dlq record %s has no payload", record.OutboxID)
	}

	value := []byte(record.Payload)
	// Невалидный JSON воркер сохраняет строкой.
	var raw string
	if err := json.Unmarshal(record.Payload, &raw); err == nil {
		value = []byte(raw)
	}

	key := firstNonEmpty(record.AggregateID, record.OutboxID)
	return replayMessage{
		topic: cfg.ordersTopic,
		key:   []byte(key),
		value: value,
	}, true, nil
}

func extractConsumerRecord(msg *sarama.ConsumerMessage, topic string, cfg config) (replayMessage, bool, error) {
	if len(msg.Value) == 0 {
		return replayMessage{}, false, fmt.Errorf("dlq record has empty value")
	}

	retries := kafka.RetryCount(msg.Headers)
	if cfg.maxRetryCount > 0 && retries > cfg.maxRetryCount {
		return replayMessage{}, false, nil
	}

	headers := make([]sarama.RecordHeader, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		if _, drop := dlqHeaders[string(h.Key)]; drop {
			continue
		}
		headers = append(headers, *h)
	}
	headers = append(headers, sarama.RecordHeader{
		Key:   []byte(kafka.HeaderRetryCount),
		Value: []byte(strconv.Itoa(retries)),
	})

	return replayMessage{
		topic:   firstNonEmpty(topic, cfg.paymentsTopic),
		key:     msg.Key,
		value:   msg.Value,
		headers: headers,
	}, true, nil
}

func header(headers []*sarama.RecordHeader, key string) (string, bool) {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return strings.TrimSpace(string(h.Value)), true
		}
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
