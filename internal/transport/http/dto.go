package httptransport

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/service/orders"
)

const dateLayout = "2006-01-02"

type orderLineRequest struct {
	ItemID   string `json:"itemId"`
	Quantity *int64 `json:"quantity"`
}

type orderRequest struct {
	Status     *string            `json:"status"`
	UserEmail  string             `json:"userEmail"`
	OrderItems []orderLineRequest `json:"orderItems"`
}

type itemRequest struct {
	Name  *string          `json:"name"`
	Price *decimal.Decimal `json:"price"`
}

type orderLineResponse struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
	OrderID  string `json:"orderId"`
	ItemID   string `json:"itemId"`
}

type orderResponse struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	CreationDate string              `json:"creationDate"`
	PaymentID    string              `json:"paymentId,omitempty"`
	OrderItems   []orderLineResponse `json:"orderItems"`
	UserInfo     *domain.Identity    `json:"userInfo"`
}

type itemResponse struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
}

func (req orderRequest) toCreate() orders.CreateRequest {
	create := orders.CreateRequest{Email: req.UserEmail}
	if req.Status != nil {
		create.Status = *req.Status
	}
	create.Lines = make([]orders.LineRequest, 0, len(req.OrderItems))
	for _, line := range req.OrderItems {
		var quantity int64
		if line.Quantity != nil {
			quantity = *line.Quantity
		}
		create.Lines = append(create.Lines, orders.LineRequest{ItemID: line.ItemID, Quantity: quantity})
	}
	return create
}

func newOrderLineResponse(line domain.OrderLine) orderLineResponse {
	return orderLineResponse{
		ID:       line.ID,
		Quantity: line.Quantity,
		OrderID:  line.OrderID,
		ItemID:   line.ItemID,
	}
}

func newOrderResponse(view orders.View) orderResponse {
	order := view.Order
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, newOrderLineResponse(line))
	}
	return orderResponse{
		ID:           order.ID,
		Status:       string(order.Status),
		CreationDate: order.CreatedAt.Format(dateLayout),
		PaymentID:    order.PaymentID,
		OrderItems:   lines,
		UserInfo:     view.User,
	}
}

func newOrderResponses(views []orders.View) []orderResponse {
	out := make([]orderResponse, 0, len(views))
	for _, view := range views {
		out = append(out, newOrderResponse(view))
	}
	return out
}

func newItemResponse(item domain.Item) itemResponse {
	return itemResponse{
		ID:    item.ID,
		Name:  item.Name,
		Price: json.Number(item.Price.String()),
	}
}
