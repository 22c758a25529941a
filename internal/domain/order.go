package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusCreated: заказ сохранён, событие на оплату отправлено.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusToPay: платёж создан и привязан к заказу.
	OrderStatusToPay OrderStatus = "TO_PAY"
	// OrderStatusInProgress: оплата прошла, заказ в работе.
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	// OrderStatusCompleted: заказ выполнен.
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusToPay, OrderStatusInProgress, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Item: позиция каталога. Цена хранится в точной десятичной арифметике.
type Item struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// OrderLine связывает заказ с товаром каталога.
type OrderLine struct {
	ID       string
	OrderID  string
	ItemID   string
	Quantity int64
}

// Order агрегирует состояние заказа и его строки.
// UserID и CreatedAt задаются один раз при создании и больше не меняются.
type Order struct {
	ID        string
	Status    OrderStatus
	UserID    string
	PaymentID string
	CreatedAt time.Time
	Lines     []OrderLine
}

// HasPayment сообщает, привязан ли к заказу платёж.
func (o Order) HasPayment() bool {
	return o.PaymentID != ""
}

// Total считает Σ(price × quantity) по строкам заказа.
// prices содержит цены товаров по их идентификаторам; отсутствующий товар даёт ErrItemNotFound.
func (o Order) Total(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, line := range o.Lines {
		price, ok := prices[line.ItemID]
		if !ok {
			return decimal.Zero, ItemNotFound(line.ItemID)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(line.Quantity)))
	}
	return total, nil
}
