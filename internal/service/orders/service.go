// Package orders реализует сценарии работы с заказами: создание с проверкой
// пользователя, чтение с проверкой владельца, пакетное чтение, обновление и удаление.
package orders

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
)

// PublishMode определяет, как OrderEvent попадает в брокер.
type PublishMode string

const (
	// PublishDirect: публикация после коммита, без гарантии доставки.
	PublishDirect PublishMode = "direct"
	// PublishOutbox: событие пишется в outbox в транзакции заказа.
	PublishOutbox PublishMode = "outbox"
)

// ParsePublishMode разбирает режим публикации; пустая строка даёт PublishDirect.
func ParsePublishMode(raw string) (PublishMode, error) {
	switch mode := PublishMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", PublishDirect:
		return PublishDirect, nil
	case PublishOutbox:
		return PublishOutbox, nil
	default:
		return "", fmt.Errorf("unsupported publish mode %q", raw)
	}
}

// LineRequest: строка создаваемого заказа.
type LineRequest struct {
	ItemID   string
	Quantity int64
}

// CreateRequest: данные для создания заказа.
type CreateRequest struct {
	Status string
	Email  string
	Lines  []LineRequest
}

// UpdateRequest: частичное обновление заказа; nil-поле не меняется.
type UpdateRequest struct {
	Status *string
}

// View: заказ вместе с проекцией пользователя.
// В пакетном чтении User может быть nil, если identity-сервис его не вернул.
type View struct {
	Order domain.Order
	User  *domain.Identity
}

// Service оркестрирует заказы.
type Service struct {
	orders    domain.OrderRepository
	items     domain.ItemRepository
	identity  domain.IdentityClient
	publisher domain.EventPublisher
	mode      PublishMode
	metrics   *metrics.OrderMetrics
	logger    *log.Entry
	now       func() time.Time
	newID     func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithPublisher задаёт паблишер для прямого режима.
func WithPublisher(publisher domain.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithPublishMode задаёт режим публикации OrderEvent.
func WithPublishMode(mode PublishMode) Option {
	return func(s *Service) {
		s.mode = mode
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, items domain.ItemRepository, identity domain.IdentityClient, options ...Option) *Service {
	s := &Service{
		orders:   orders,
		items:    items,
		identity: identity,
		mode:     PublishDirect,
		logger:   log.WithField("component", "order-service"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Create проверяет товары и пользователя, сохраняет заказ со строками одной транзакцией
// и публикует OrderEvent с суммой к оплате.
func (s *Service) Create(ctx context.Context, token string, req CreateRequest) (View, error) {
	if err := validateCreate(req); err != nil {
		return View{}, err
	}

	itemIDs := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		itemIDs = append(itemIDs, line.ItemID)
	}
	items, err := s.items.GetMany(ctx, itemIDs)
	if err != nil {
		return View{}, fmt.Errorf("load items: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(items))
	for _, id := range itemIDs {
		item, ok := items[id]
		if !ok {
			return View{}, domain.ItemNotFound(id)
		}
		prices[id] = item.Price
	}

	// Пользователь разрешается до открытия транзакции.
	user, err := s.identity.ResolveByEmail(ctx, token, req.Email)
	if err != nil {
		return View{}, err
	}

	order := domain.Order{
		ID:        s.newID(),
		Status:    domain.OrderStatusCreated,
		UserID:    user.ID,
		CreatedAt: s.now(),
		Lines:     make([]domain.OrderLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:       s.newID(),
			OrderID:  order.ID,
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
		})
	}

	total, err := order.Total(prices)
	if err != nil {
		return View{}, err
	}
	event := domain.OrderEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentAmount: total,
	}

	if s.mode == PublishOutbox {
		payload, err := kafka.EncodeOrderEvent(event)
		if err != nil {
			return View{}, err
		}
		msg := domain.OutboxMessage{
			ID:            s.newID(),
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     kafka.EventTypeOrderCreated,
			Payload:       payload,
			CreatedAt:     order.CreatedAt,
		}
		if err := s.orders.Create(ctx, order, msg); err != nil {
			return View{}, err
		}
	} else {
		if err := s.orders.Create(ctx, order); err != nil {
			return View{}, err
		}
		if s.publisher != nil {
			s.publisher.Publish(ctx, event)
		} else {
			s.logger.WithField("order_id", order.ID).Warn("event publisher is not configured, order event skipped")
		}
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"amount":   total.StringFixed(2),
	}).Info("order created")

	return View{Order: order, User: &user}, nil
}

// Get возвращает заказ, если пользователь с email владеет им.
func (s *Service) Get(ctx context.Context, token, id, email string) (View, error) {
	order, user, err := s.loadOwned(ctx, token, id, email)
	if err != nil {
		return View{}, err
	}
	return View{Order: order, User: &user}, nil
}

// GetByIDs возвращает найденные заказы с пользователями.
func (s *Service) GetByIDs(ctx context.Context, token string, ids []string) ([]View, error) {
	orders, err := s.orders.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.attachUsers(ctx, token, orders)
}

// GetByStatuses возвращает заказы в любом из статусов с пользователями.
func (s *Service) GetByStatuses(ctx context.Context, token string, statuses []domain.OrderStatus) ([]View, error) {
	orders, err := s.orders.ListByStatuses(ctx, statuses)
	if err != nil {
		return nil, err
	}
	return s.attachUsers(ctx, token, orders)
}

// Update применяет частичное обновление к заказу пользователя.
// Статус перезаписывается как есть, без проверки переходов.
func (s *Service) Update(ctx context.Context, token, id, email string, req UpdateRequest) (View, error) {
	if err := validateUpdate(email, req); err != nil {
		return View{}, err
	}

	order, user, err := s.loadOwned(ctx, token, id, email)
	if err != nil {
		return View{}, err
	}

	if req.Status != nil {
		status, _ := domain.ParseOrderStatus(*req.Status)
		if err := s.orders.UpdateStatus(ctx, order.ID, status); err != nil {
			return View{}, err
		}
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"from":     order.Status,
			"to":       status,
		}).Info("order status updated")
		order.Status = status
	}

	return View{Order: order, User: &user}, nil
}

// Delete удаляет заказ вместе со строками.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("order_id", id).Info("order deleted")
	return nil
}

func (s *Service) loadOwned(ctx context.Context, token, id, email string) (domain.Order, domain.Identity, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, domain.Identity{}, err
	}

	user, err := s.identity.ResolveByEmail(ctx, token, email)
	if err != nil {
		return domain.Order{}, domain.Identity{}, err
	}
	if user.ID != order.UserID {
		return domain.Order{}, domain.Identity{}, domain.NewError(domain.ErrInconsistentData, "User id mismatch")
	}
	return order, user, nil
}

// attachUsers разрешает всех владельцев одним запросом. Заказ, владельца которого
// identity-сервис не вернул, отдаётся с User == nil.
func (s *Service) attachUsers(ctx context.Context, token string, orders []domain.Order) ([]View, error) {
	if len(orders) == 0 {
		return []View{}, nil
	}

	seen := make(map[string]struct{}, len(orders))
	userIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		if _, ok := seen[order.UserID]; ok {
			continue
		}
		seen[order.UserID] = struct{}{}
		userIDs = append(userIDs, order.UserID)
	}

	identities, err := s.identity.ResolveByIDs(ctx, token, userIDs)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, domain.NewError(domain.ErrUserNotFound, "User not found")
	}

	byID := make(map[string]domain.Identity, len(identities))
	for _, identity := range identities {
		byID[identity.ID] = identity
	}

	views := make([]View, 0, len(orders))
	for _, order := range orders {
		view := View{Order: order}
		if identity, ok := byID[order.UserID]; ok {
			identity := identity
			view.User = &identity
		} else {
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"user_id":  order.UserID,
			}).Warn("order owner is missing from user service response")
		}
		views = append(views, view)
	}
	return views, nil
}

func validateCreate(req CreateRequest) error {
	verr := domain.NewValidationError()

	if strings.TrimSpace(req.Status) == "" {
		verr.Add("status", "must not be null")
	} else if _, ok := domain.ParseOrderStatus(req.Status); !ok {
		verr.Add("status", "unknown order status")
	}
	validateEmail(verr, "userEmail", req.Email)

	for i, line := range req.Lines {
		field := fmt.Sprintf("orderItems[%d]", i)
		if strings.TrimSpace(line.ItemID) == "" {
			verr.Add(field+".itemId", "must not be null")
		}
		if line.Quantity <= 0 {
			verr.Add(field+".quantity", "must be greater than 0")
		}
	}
	return verr.Err()
}

func validateUpdate(email string, req UpdateRequest) error {
	verr := domain.NewValidationError()
	validateEmail(verr, "email", email)
	if req.Status != nil {
		if _, ok := domain.ParseOrderStatus(*req.Status); !ok {
			verr.Add("status", "unknown order status")
		}
	}
	return verr.Err()
}

func validateEmail(verr *domain.ValidationError, field, email string) {
	if strings.TrimSpace(email) == "" {
		verr.Add(field, "must not be blank")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		verr.Add(field, "must be a well-formed email address")
	}
}
