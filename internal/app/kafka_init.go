package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/health"
	"github.com/vladislavdragonenkov/orderserver/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
	"github.com/vladislavdragonenkov/orderserver/internal/service/orders"
)

var errKafkaDisabled = errors.New("kafka is disabled: KAFKA_BROKERS is empty")

// messaging объединяет Kafka-компоненты сервиса. Любое поле может быть nil,
// если компонент не поднялся: сервис продолжает работу без него.
type messaging struct {
	orderPublisher *kafka.OrderEventPublisher
	producer       *kafka.Producer
	dlqProducer    *kafka.Producer
	consumer       *kafka.Consumer
	probe          *kafka.BrokerProbe
	initErr        error
}

// initMessaging поднимает producer'ы, consumer платежей и probe брокера.
// Ошибки подключения логируются, Kafka-часть при этом отключается.
func initMessaging(cfg Config, m *metrics.OrderMetrics, handler kafka.PaymentEventHandler, logger *log.Entry) *messaging {
	msg := &messaging{}
	if !cfg.KafkaEnabled() {
		msg.initErr = errKafkaDisabled
		logger.Warn("kafka brokers are not configured, order events and payment consumption are disabled")
		return msg
	}
	logger = logger.WithField("brokers", cfg.KafkaBrokers)

	probe, err := kafka.NewBrokerProbe(cfg.KafkaBrokers)
	if err != nil {
		msg.initErr = err
		logger.WithError(err).Warn("failed to connect to kafka, continuing without kafka")
		return msg
	}
	msg.probe = probe

	if cfg.PublishMode == orders.PublishDirect {
		publisher, err := kafka.NewOrderEventPublisher(cfg.KafkaBrokers, cfg.OrdersTopic, m)
		if err != nil {
			logger.WithError(err).Warn("failed to create order event publisher")
		} else {
			msg.orderPublisher = publisher
		}
	} else {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create outbox producer")
		} else {
			msg.producer = producer
		}
	}

	dlqProducer, err := kafka.NewDLQProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create dead-letter producer, failed payments will only be logged")
	} else {
		msg.dlqProducer = dlqProducer
	}

	options := []kafka.ConsumerOption{
		kafka.WithRetry(cfg.PaymentsMaxRetries, cfg.PaymentsRetryDelay),
		kafka.WithConsumerMetrics(m),
	}
	if msg.dlqProducer != nil {
		options = append(options, kafka.WithDeadLetter(msg.dlqProducer, cfg.DeadPaymentsTopic))
	}
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.PaymentsConsumerGroup,
		[]string{cfg.PaymentsTopic},
		kafka.NewPaymentMessageHandler(handler),
		options...,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create payments consumer")
	} else {
		msg.consumer = consumer
	}

	logger.Info("kafka initialized")
	return msg
}

// checker отдаёт состояние брокера для /healthz.
func (k *messaging) checker() health.Checker {
	return health.NewSimpleChecker("kafka", func(ctx context.Context) error {
		if k.probe == nil {
			return k.initErr
		}
		return k.probe.Ping(ctx)
	})
}

// close закрывает producer'ы после остановки consumer.
func (k *messaging) close(logger *log.Entry) {
	if k == nil {
		return
	}
	if k.orderPublisher != nil {
		if err := k.orderPublisher.Close(); err != nil {
			logger.WithError(err).Warn("failed to close order event publisher")
		}
	}
	closeKafkaProducer(k.producer, logger)
	closeKafkaProducer(k.dlqProducer, logger)
	if k.probe != nil {
		if err := k.probe.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka probe")
		}
	}
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
