// Package app собирает сервис заказов: хранилище, Kafka, REST API и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/orderserver/internal/health"
	"github.com/vladislavdragonenkov/orderserver/internal/identity"
	"github.com/vladislavdragonenkov/orderserver/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
	"github.com/vladislavdragonenkov/orderserver/internal/service/catalog"
	"github.com/vladislavdragonenkov/orderserver/internal/service/orders"
	"github.com/vladislavdragonenkov/orderserver/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderserver/internal/service/payments"
	httptransport "github.com/vladislavdragonenkov/orderserver/internal/transport/http"
	"github.com/vladislavdragonenkov/orderserver/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// components: собранный, но ещё не запущенный сервис.
type components struct {
	deps      *runtimeDependencies
	messaging *messaging
	api       http.Handler
	ops       http.Handler
	worker    *outbox.Worker
}

// build связывает зависимости по конфигурации.
func build(ctx context.Context, cfg Config, m *metrics.OrderMetrics, logger *log.Entry) (*components, error) {
	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := payments.NewProcessor(deps.orders, m, logger.WithField("component", "payment-processor"))
	msg := initMessaging(cfg, m, processor, logger)

	serviceOptions := []orders.Option{
		orders.WithPublishMode(cfg.PublishMode),
		orders.WithMetrics(m),
	}
	if msg.orderPublisher != nil {
		serviceOptions = append(serviceOptions, orders.WithPublisher(msg.orderPublisher))
	}
	orderService := orders.NewService(
		deps.orders,
		deps.items,
		identity.NewClient(cfg.UserServiceURL, cfg.UserServiceTimeout),
		serviceOptions...,
	)
	catalogService := catalog.NewService(deps.items, deps.lines)

	api := httptransport.NewRouter(orderService, catalogService, httptransport.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        m,
	})

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterOptionalChecker("kafka", msg.checker())

	ops := http.NewServeMux()
	ops.Handle("/metrics", promhttp.Handler())
	healthHandler.Routes(ops)

	c := &components{deps: deps, messaging: msg, api: api, ops: ops}

	if cfg.PublishMode == orders.PublishOutbox {
		var relay, dlq *kafka.OutboxTopicPublisher
		if msg.producer != nil {
			relay = kafka.NewOutboxPublisher(msg.producer, cfg.OrdersTopic)
			dlq = kafka.NewOutboxPublisher(msg.producer, cfg.DeadOrdersTopic)
		}
		options := []outbox.Option{
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithMetrics(m),
		}
		if relay != nil {
			c.worker = outbox.NewWorker(deps.outbox, relay, append(options, outbox.WithDLQPublisher(dlq))...)
		} else {
			logger.Warn("outbox mode without kafka producer: events stay pending until the broker is available")
		}
	}

	return c, nil
}

func (c *components) close(logger *log.Entry) {
	c.messaging.close(logger)
	c.deps.close(logger)
}

// Run запускает сервис и блокируется до отмены ctx или фатальной ошибки.
// При остановке по сигналу возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	m := metrics.NewOrderMetrics()

	c, err := build(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer c.close(logger)

	apiListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	opsListener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiListener.Close()
		return err
	}

	apiSrv := &http.Server{Handler: c.api, ReadHeaderTimeout: readHeaderTimeout}
	opsSrv := &http.Server{Handler: c.ops, ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("REST API listens on %s", apiListener.Addr())
		return serveHTTP(apiSrv, apiListener)
	})
	g.Go(func() error {
		logger.Infof("metrics and health checks on %s (/metrics, /healthz, /livez, /readyz)", opsListener.Addr())
		return serveHTTP(opsSrv, opsListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(opsSrv, logger)
		return nil
	})

	if consumer := c.messaging.consumer; consumer != nil {
		if err := consumer.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Stop()
		})
	}

	if c.worker != nil {
		g.Go(func() error {
			return c.worker.Run(gctx)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received, service stopped")
		return ctx.Err()
	}
	return err
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
