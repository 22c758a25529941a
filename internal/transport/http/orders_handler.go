package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/identity"
	"github.com/vladislavdragonenkov/orderserver/internal/service/orders"
)

// OrderService: операции над заказами, доступные через REST.
type OrderService interface {
	Create(ctx context.Context, token string, req orders.CreateRequest) (orders.View, error)
	Get(ctx context.Context, token, id, email string) (orders.View, error)
	GetByIDs(ctx context.Context, token string, ids []string) ([]orders.View, error)
	GetByStatuses(ctx context.Context, token string, statuses []domain.OrderStatus) ([]orders.View, error)
	Update(ctx context.Context, token, id, email string, req orders.UpdateRequest) (orders.View, error)
	Delete(ctx context.Context, id string) error
}

type ordersHandler struct {
	service OrderService
}

func (h ordersHandler) routes(r chi.Router, m errorMapper) {
	r.Post("/", m.wrap(h.create))
	r.Post("/ids", m.wrap(h.listByIDs))
	r.Post("/statuses", m.wrap(h.listByStatuses))
	r.Get("/{id}/{email}", m.wrap(h.get))
	r.Put("/{id}/{email}", m.wrap(h.update))
	r.Delete("/{id}", m.wrap(h.delete))
}

func (h ordersHandler) create(w http.ResponseWriter, r *http.Request) error {
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	view, err := h.service.Create(r.Context(), token, req.toCreate())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderResponse(view))
	return nil
}

func (h ordersHandler) get(w http.ResponseWriter, r *http.Request) error {
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}

	view, err := h.service.Get(r.Context(), token, chi.URLParam(r, "id"), chi.URLParam(r, "email"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderResponse(view))
	return nil
}

func (h ordersHandler) listByIDs(w http.ResponseWriter, r *http.Request) error {
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	var ids []string
	if err := decodeJSON(r, &ids); err != nil {
		return err
	}

	views, err := h.service.GetByIDs(r.Context(), token, ids)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderResponses(views))
	return nil
}

func (h ordersHandler) listByStatuses(w http.ResponseWriter, r *http.Request) error {
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	var raw []string
	if err := decodeJSON(r, &raw); err != nil {
		return err
	}

	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status, ok := domain.ParseOrderStatus(value)
		if !ok {
			return badRequest("statuses", "unknown order status "+value)
		}
		statuses = append(statuses, status)
	}

	views, err := h.service.GetByStatuses(r.Context(), token, statuses)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderResponses(views))
	return nil
}

func (h ordersHandler) update(w http.ResponseWriter, r *http.Request) error {
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	view, err := h.service.Update(r.Context(), token, chi.URLParam(r, "id"), chi.URLParam(r, "email"),
		orders.UpdateRequest{Status: req.Status})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newOrderResponse(view))
	return nil
}

func (h ordersHandler) delete(w http.ResponseWriter, r *http.Request) error {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
