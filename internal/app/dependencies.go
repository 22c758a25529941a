package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/health"
	"github.com/vladislavdragonenkov/orderserver/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderserver/internal/storage/postgres"
)

// runtimeDependencies содержит репозитории выбранного хранилища.
type runtimeDependencies struct {
	orders         domain.OrderRepository
	items          domain.ItemRepository
	lines          domain.OrderLineRepository
	outbox         domain.OutboxRepository
	storageChecker health.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			orders: memory.NewOrderRepository(store),
			items:  memory.NewItemRepository(store),
			lines:  memory.NewOrderLineRepository(store),
			outbox: memory.NewOutboxRepository(store),
			storageChecker: health.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			orders:         postgres.NewOrderRepository(store),
			items:          postgres.NewItemRepository(store),
			lines:          postgres.NewOrderLineRepository(store),
			outbox:         postgres.NewOutboxRepository(store),
			storageChecker: health.NewSimpleChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
