// Package handler exposes the order API over HTTP with chi routing and the
// JSON response envelope.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/shop-orders/internal/domain/access"
	"github.com/xenking/shop-orders/internal/domain/order"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// OrderService is the order use-case surface the handler depends on.
type OrderService interface {
	Create(ctx context.Context, id access.Identity, req order.CreateRequest) (*order.CreateResult, error)
	Get(ctx context.Context, id access.Identity, orderID int64) (*order.Order, error)
	List(ctx context.Context, id access.Identity, f order.ListFilter) ([]order.Order, error)
	Update(ctx context.Context, id access.Identity, orderID int64, p order.Patch) (*order.Order, error)
}

// Handler serves the order endpoints.
type Handler struct {
	orders  OrderService
	gateway *Gateway
}

// NewHandler constructs a Handler. Callers are identified by gateway.
func NewHandler(orders OrderService, gateway *Gateway) *Handler {
	return &Handler{
		orders:  orders,
		gateway: gateway,
	}
}

// Routes registers the order endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Middleware)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}", h.updateOrder)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, "Not found.", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method \""+r.Method+"\" not allowed.", nil)
	})
}

// RoutePattern returns the chi route template matched for r.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
