// Package catalog управляет товарами и строками заказов.
package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

// ItemRequest: данные товара. В обновлении nil-поля не меняются.
type ItemRequest struct {
	Name  *string
	Price *decimal.Decimal
}

// LineRequest: данные строки заказа. В обновлении учитывается только Quantity.
type LineRequest struct {
	ItemID   string
	Quantity *int64
}

// Service реализует CRUD каталога.
type Service struct {
	items  domain.ItemRepository
	lines  domain.OrderLineRepository
	logger *log.Entry
	newID  func() string
}

// NewService создаёт сервис каталога.
func NewService(items domain.ItemRepository, lines domain.OrderLineRepository) *Service {
	return &Service{
		items:  items,
		lines:  lines,
		logger: log.WithField("component", "catalog-service"),
		newID:  func() string { return uuid.NewString() },
	}
}

// CreateItem добавляет товар.
func (s *Service) CreateItem(ctx context.Context, req ItemRequest) (domain.Item, error) {
	verr := domain.NewValidationError()
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		verr.Add("name", "must not be blank")
	}
	if req.Price == nil {
		verr.Add("price", "must not be null")
	} else {
		validatePrice(verr, *req.Price)
	}
	if err := verr.Err(); err != nil {
		return domain.Item{}, err
	}

	item := domain.Item{ID: s.newID(), Name: strings.TrimSpace(*req.Name), Price: *req.Price}
	if err := s.items.Create(ctx, item); err != nil {
		return domain.Item{}, err
	}
	s.logger.WithField("item_id", item.ID).Info("item created")
	return item, nil
}

// GetItem возвращает товар.
func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return s.items.Get(ctx, id)
}

// UpdateItem меняет только переданные поля.
func (s *Service) UpdateItem(ctx context.Context, id string, req ItemRequest) (domain.Item, error) {
	verr := domain.NewValidationError()
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		verr.Add("name", "must not be blank")
	}
	if req.Price != nil {
		validatePrice(verr, *req.Price)
	}
	if err := verr.Err(); err != nil {
		return domain.Item{}, err
	}

	item, err := s.items.Get(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Price != nil {
		item.Price = *req.Price
	}
	if err := s.items.Update(ctx, item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

// DeleteItem удаляет товар и все строки заказов, которые на него ссылаются.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if err := s.items.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("item_id", id).Info("item deleted")
	return nil
}

// CreateLine добавляет строку в существующий заказ.
func (s *Service) CreateLine(ctx context.Context, orderID string, req LineRequest) (domain.OrderLine, error) {
	verr := domain.NewValidationError()
	if strings.TrimSpace(req.ItemID) == "" {
		verr.Add("itemId", "must not be null")
	}
	if req.Quantity == nil {
		verr.Add("quantity", "must not be null")
	} else if *req.Quantity <= 0 {
		verr.Add("quantity", "must be greater than 0")
	}
	if err := verr.Err(); err != nil {
		return domain.OrderLine{}, err
	}

	line := domain.OrderLine{
		ID:       s.newID(),
		OrderID:  orderID,
		ItemID:   req.ItemID,
		Quantity: *req.Quantity,
	}
	if err := s.lines.Create(ctx, line); err != nil {
		return domain.OrderLine{}, err
	}
	return line, nil
}

// GetLine возвращает строку заказа.
func (s *Service) GetLine(ctx context.Context, id string) (domain.OrderLine, error) {
	return s.lines.Get(ctx, id)
}

// UpdateLine меняет количество; ссылка на товар и заказ не трогается.
func (s *Service) UpdateLine(ctx context.Context, id string, req LineRequest) (domain.OrderLine, error) {
	if req.Quantity != nil && *req.Quantity <= 0 {
		verr := domain.NewValidationError()
		verr.Add("quantity", "must be greater than 0")
		return domain.OrderLine{}, verr
	}

	line, err := s.lines.Get(ctx, id)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if req.Quantity == nil {
		return line, nil
	}
	if err := s.lines.UpdateQuantity(ctx, id, *req.Quantity); err != nil {
		return domain.OrderLine{}, err
	}
	line.Quantity = *req.Quantity
	return line, nil
}

// DeleteLine удаляет строку заказа.
func (s *Service) DeleteLine(ctx context.Context, id string) error {
	return s.lines.Delete(ctx, id)
}

func validatePrice(verr *domain.ValidationError, price decimal.Decimal) {
	if !price.IsPositive() {
		verr.Add("price", "must be greater than 0")
	}
}
