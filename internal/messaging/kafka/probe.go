package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// BrokerProbe проверяет доступность кластера для /healthz.
type BrokerProbe struct {
	client sarama.Client
}

// NewBrokerProbe подключается к кластеру отдельным клиентом.
func NewBrokerProbe(brokers []string) (*BrokerProbe, error) {
	config := sarama.NewConfig()
	config.Net.DialTimeout = 2 * time.Second
	config.Metadata.Retry.Max = 1
	config.Metadata.Retry.Backoff = 100 * time.Millisecond

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka probe client: %w", err)
	}
	return &BrokerProbe{client: client}, nil
}

// Ping обновляет метаданные кластера. Ожидание ограничено ctx.
func (p *BrokerProbe) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- p.client.RefreshMetadata()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("kafka metadata refresh: %w", err)
		}
		if len(p.client.Brokers()) == 0 {
			return fmt.Errorf("kafka: no brokers available")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close закрывает клиент.
func (p *BrokerProbe) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close kafka probe client: %w", err)
	}
	return nil
}
