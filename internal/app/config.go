package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/orderserver/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderserver/internal/service/orders"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Ключи конфигурации. Viper читает их из одноимённых переменных окружения.
const (
	keyHTTPAddr              = "http_addr"
	keyMetricsAddr           = "metrics_addr"
	keyLogLevel              = "log_level"
	keyStorageDriver         = "storage_driver"
	keyPostgresDSN           = "postgres_dsn"
	keyPostgresAutoMigrate   = "postgres_auto_migrate"
	keyKafkaBrokers          = "kafka_brokers"
	keyOrdersTopic           = "orders_topic"
	keyPaymentsTopic         = "payments_topic"
	keyDeadPaymentsTopic     = "dead_payments_topic"
	keyDeadOrdersTopic       = "dead_orders_topic"
	keyPaymentsConsumerGroup = "payments_consumer_group"
	keyPaymentsMaxRetries    = "payments_max_retries"
	keyPaymentsRetryDelay    = "payments_retry_delay"
	keyUserServiceURL        = "user_service_url"
	keyUserServiceTimeout    = "user_service_timeout"
	keyPublishMode           = "publish_mode"
	keyOutboxPollInterval    = "outbox_poll_interval"
	keyOutboxBatchSize       = "outbox_batch_size"
	keyOutboxMaxAttempts     = "outbox_max_attempts"
	keyOutboxRetryDelay      = "outbox_retry_delay"
	keyCORSAllowedOrigins    = "cors_allowed_origins"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers          []string
	OrdersTopic           string
	PaymentsTopic         string
	DeadPaymentsTopic     string
	DeadOrdersTopic       string
	PaymentsConsumerGroup string
	PaymentsMaxRetries    int
	PaymentsRetryDelay    time.Duration

	UserServiceURL     string
	UserServiceTimeout time.Duration

	PublishMode        orders.PublishMode
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	CORSAllowedOrigins []string
}

// DefaultConfig возвращает значения по умолчанию: память, Kafka выключена.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		OrdersTopic:           kafka.TopicOrders,
		PaymentsTopic:         kafka.TopicPayments,
		DeadPaymentsTopic:     kafka.TopicDeadPayments,
		DeadOrdersTopic:       kafka.TopicDeadOrders,
		PaymentsConsumerGroup: "payments1",
		PaymentsMaxRetries:    3,
		PaymentsRetryDelay:    time.Second,
		UserServiceURL:        "http://localhost:8081",
		UserServiceTimeout:    5 * time.Second,
		PublishMode:           orders.PublishDirect,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
		CORSAllowedOrigins:    []string{"*"},
	}
}

// LoadConfig читает конфигурацию из окружения поверх DefaultConfig.
// v == nil означает новый экземпляр viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	def := DefaultConfig()

	v.SetDefault(keyHTTPAddr, def.HTTPAddr)
	v.SetDefault(keyMetricsAddr, def.MetricsAddr)
	v.SetDefault(keyLogLevel, def.LogLevel)
	v.SetDefault(keyStorageDriver, def.StorageDriver)
	v.SetDefault(keyPostgresDSN, "")
	v.SetDefault(keyPostgresAutoMigrate, def.PostgresAutoMigrate)
	v.SetDefault(keyKafkaBrokers, "")
	v.SetDefault(keyOrdersTopic, def.OrdersTopic)
	v.SetDefault(keyPaymentsTopic, def.PaymentsTopic)
	v.SetDefault(keyDeadPaymentsTopic, def.DeadPaymentsTopic)
	v.SetDefault(keyDeadOrdersTopic, def.DeadOrdersTopic)
	v.SetDefault(keyPaymentsConsumerGroup, def.PaymentsConsumerGroup)
	v.SetDefault(keyPaymentsMaxRetries, def.PaymentsMaxRetries)
	v.SetDefault(keyPaymentsRetryDelay, def.PaymentsRetryDelay)
	v.SetDefault(keyUserServiceURL, def.UserServiceURL)
	v.SetDefault(keyUserServiceTimeout, def.UserServiceTimeout)
	v.SetDefault(keyPublishMode, string(def.PublishMode))
	v.SetDefault(keyOutboxPollInterval, def.OutboxPollInterval)
	v.SetDefault(keyOutboxBatchSize, def.OutboxBatchSize)
	v.SetDefault(keyOutboxMaxAttempts, def.OutboxMaxAttempts)
	v.SetDefault(keyOutboxRetryDelay, def.OutboxRetryDelay)
	v.SetDefault(keyCORSAllowedOrigins, strings.Join(def.CORSAllowedOrigins, ","))
	v.AutomaticEnv()

	mode, err := orders.ParsePublishMode(v.GetString(keyPublishMode))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr:              strings.TrimSpace(v.GetString(keyHTTPAddr)),
		MetricsAddr:           strings.TrimSpace(v.GetString(keyMetricsAddr)),
		LogLevel:              strings.TrimSpace(v.GetString(keyLogLevel)),
		StorageDriver:         strings.ToLower(strings.TrimSpace(v.GetString(keyStorageDriver))),
		PostgresDSN:           strings.TrimSpace(v.GetString(keyPostgresDSN)),
		PostgresAutoMigrate:   v.GetBool(keyPostgresAutoMigrate),
		KafkaBrokers:          splitList(v.GetString(keyKafkaBrokers)),
		OrdersTopic:           v.GetString(keyOrdersTopic),
		PaymentsTopic:         v.GetString(keyPaymentsTopic),
		DeadPaymentsTopic:     v.GetString(keyDeadPaymentsTopic),
		DeadOrdersTopic:       v.GetString(keyDeadOrdersTopic),
		PaymentsConsumerGroup: v.GetString(keyPaymentsConsumerGroup),
		PaymentsMaxRetries:    v.GetInt(keyPaymentsMaxRetries),
		PaymentsRetryDelay:    v.GetDuration(keyPaymentsRetryDelay),
		UserServiceURL:        strings.TrimSpace(v.GetString(keyUserServiceURL)),
		UserServiceTimeout:    v.GetDuration(keyUserServiceTimeout),
		PublishMode:           mode,
		OutboxPollInterval:    v.GetDuration(keyOutboxPollInterval),
		OutboxBatchSize:       v.GetInt(keyOutboxBatchSize),
		OutboxMaxAttempts:     v.GetInt(keyOutboxMaxAttempts),
		OutboxRetryDelay:      v.GetDuration(keyOutboxRetryDelay),
		CORSAllowedOrigins:    splitList(v.GetString(keyCORSAllowedOrigins)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for storage driver %q", StorageDriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.PaymentsMaxRetries < 0 {
		return fmt.Errorf("PAYMENTS_MAX_RETRIES must be >= 0, got %d", c.PaymentsMaxRetries)
	}
	if c.PaymentsRetryDelay < 0 {
		return fmt.Errorf("PAYMENTS_RETRY_DELAY must be >= 0, got %s", c.PaymentsRetryDelay)
	}
	if c.UserServiceURL == "" {
		return fmt.Errorf("USER_SERVICE_URL is required")
	}
	return nil
}

// KafkaEnabled сообщает, задан ли список брокеров.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
