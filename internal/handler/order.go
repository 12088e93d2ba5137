package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/order"
	"github.com/xenking/shop-orders/pkg/httpmiddleware"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Request body too large or unreadable.", nil)
		return
	}
	req, err := decodeCreate(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	req.ClientIP = httpmiddleware.ClientIP(r)

	id := IdentityFrom(r.Context())
	res, err := h.orders.Create(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	view := orderView{id: id}
	writeEnvelope(w, http.StatusCreated, "Order created successfully.", func(e *jx.Encoder) {
		view.encode(e, res.Order)
	}, nil)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id := IdentityFrom(r.Context())
	orders, err := h.orders.List(r.Context(), id, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := orderView{id: id}
	writeEnvelope(w, http.StatusOK, "Orders retrieved successfully.", func(e *jx.Encoder) {
		view.encodeList(e, orders)
	}, nil)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Not found.", nil)
		return
	}

	id := IdentityFrom(r.Context())
	o, err := h.orders.Get(r.Context(), id, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := orderView{id: id}
	writeEnvelope(w, http.StatusOK, "Order retrieved successfully.", func(e *jx.Encoder) {
		view.encode(e, o)
	}, nil)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Not found.", nil)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Request body too large or unreadable.", nil)
		return
	}
	p, err := decodePatch(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id := IdentityFrom(r.Context())
	o, err := h.orders.Update(r.Context(), id, orderID, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := orderView{id: id}
	writeEnvelope(w, http.StatusOK, "Order updated successfully.", func(e *jx.Encoder) {
		view.encode(e, o)
	}, nil)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP statuses. Anything unexpected is
// logged and reported with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *order.ValidationError
		perm  *order.PermissionError
		state *order.InvalidStateError
		nf    *order.NotFoundError
		tr    *order.TransientError
	)
	switch {
	case errors.Is(err, errMalformed):
		writeFailure(w, http.StatusBadRequest, "Malformed request body.", nil)
	case errors.As(err, &verr):
		writeFailure(w, http.StatusBadRequest, verr.Message, verr.Fields)
	case errors.As(err, &perm):
		writeFailure(w, http.StatusForbidden, perm.Error(), nil)
	case errors.As(err, &state):
		writeFailure(w, http.StatusBadRequest, state.Reason, nil)
	case errors.As(err, &nf):
		writeFailure(w, http.StatusNotFound, "Not found.", nil)
	case errors.As(err, &tr):
		zctx.From(r.Context()).Warn("Transient failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeFailure(w, http.StatusServiceUnavailable, "Service temporarily unavailable. Please retry.", nil)
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Something went wrong. Please contact support.", nil)
	}
}
