package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/service/catalog"
)

// CatalogService: CRUD товаров и строк заказов.
type CatalogService interface {
	CreateItem(ctx context.Context, req catalog.ItemRequest) (domain.Item, error)
	GetItem(ctx context.Context, id string) (domain.Item, error)
	UpdateItem(ctx context.Context, id string, req catalog.ItemRequest) (domain.Item, error)
	DeleteItem(ctx context.Context, id string) error

	CreateLine(ctx context.Context, orderID string, req catalog.LineRequest) (domain.OrderLine, error)
	GetLine(ctx context.Context, id string) (domain.OrderLine, error)
	UpdateLine(ctx context.Context, id string, req catalog.LineRequest) (domain.OrderLine, error)
	DeleteLine(ctx context.Context, id string) error
}

type catalogHandler struct {
	service CatalogService
}

func (h catalogHandler) itemRoutes(r chi.Router, m errorMapper) {
	r.Post("/", m.wrap(h.createItem))
	r.Get("/{id}", m.wrap(h.getItem))
	r.Put("/{id}", m.wrap(h.updateItem))
	r.Delete("/{id}", m.wrap(h.deleteItem))
}

func (h catalogHandler) lineRoutes(r chi.Router, m errorMapper) {
	r.Post("/order/{orderId}", m.wrap(h.createLine))
	r.Get("/{id}", m.wrap(h.getLine))
	r.Put("/{id}", m.wrap(h.updateLine))
	r.Delete("/{id}", m.wrap(h.deleteLine))
}

func (h catalogHandler) createItem(w http.ResponseWriter, r *http.Request) error {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	item, err := h.service.CreateItem(r.Context(), catalog.ItemRequest{Name: req.Name, Price: req.Price})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newItemResponse(item))
	return nil
}

func (h catalogHandler) getItem(w http.ResponseWriter, r *http.Request) error {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newItemResponse(item))
	return nil
}

func (h catalogHandler) updateItem(w http.ResponseWriter, r *http.Request) error {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	item, err := h.service.UpdateItem(r.Context(), chi.URLParam(r, "id"), catalog.ItemRequest{Name: req.Name, Price: req.Price})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newItemResponse(item))
	return nil
}

func (h catalogHandler) deleteItem(w http.ResponseWriter, r *http.Request) error {
	if err := h.service.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h catalogHandler) createLine(w http.ResponseWriter, r *http.Request) error {
	var req orderLineRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	line, err := h.service.CreateLine(r.Context(), chi.URLParam(r, "orderId"),
		catalog.LineRequest{ItemID: req.ItemID, Quantity: req.Quantity})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderLineResponse(line))
	return nil
}

func (h catalogHandler) getLine(w http.ResponseWriter, r *http.Request) error {
	line, err := h.service.GetLine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderLineResponse(line))
	return nil
}

func (h catalogHandler) updateLine(w http.ResponseWriter, r *http.Request) error {
	var req orderLineRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	line, err := h.service.UpdateLine(r.Context(), chi.URLParam(r, "id"), catalog.LineRequest{Quantity: req.Quantity})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderLineResponse(line))
	return nil
}

func (h catalogHandler) deleteLine(w http.ResponseWriter, r *http.Request) error {
	if err := h.service.DeleteLine(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
