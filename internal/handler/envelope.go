package handler

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/shop-orders/internal/domain/access"
	"github.com/xenking/shop-orders/internal/domain/order"
)

// writeEnvelope writes {"success","status","message","data","errors"}.
// data may be nil.
func writeEnvelope(w http.ResponseWriter, status int, message string, data func(e *jx.Encoder), errs map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.Field("success", func(e *jx.Encoder) { e.Bool(status < http.StatusBadRequest) })
	e.Field("status", func(e *jx.Encoder) { e.Int(status) })
	e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	e.Field("data", func(e *jx.Encoder) {
		if data == nil {
			e.Null()
			return
		}
		data(e)
	})
	e.Field("errors", func(e *jx.Encoder) { encodeFieldErrors(e, errs) })
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeFailure(w http.ResponseWriter, status int, message string, errs map[string]string) {
	writeEnvelope(w, status, message, nil, errs)
}

func encodeFieldErrors(e *jx.Encoder, errs map[string]string) {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	e.ObjStart()
	for _, k := range keys {
		e.Field(k, func(e *jx.Encoder) {
			e.ArrStart()
			e.Str(errs[k])
			e.ArrEnd()
		})
	}
	e.ObjEnd()
}

// orderView encodes orders for one caller. Payment details are included
// only when the caller may see them.
type orderView struct {
	id access.Identity
}

func (v orderView) encode(e *jx.Encoder, o *order.Order) {
	showPayment := access.Allowed(v.id, access.ActionViewPayment, o.UserID)

	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
	e.Field("order_id", func(e *jx.Encoder) { e.Str(o.Code) })
	e.Field("user", func(e *jx.Encoder) {
		if o.UserID == nil {
			e.Null()
			return
		}
		e.Int64(*o.UserID)
	})
	e.Field("customer_name", func(e *jx.Encoder) { e.Str(o.CustomerName) })
	e.Field("contact_number", func(e *jx.Encoder) { e.Str(o.ContactNumber) })
	e.Field("customer_email", func(e *jx.Encoder) { e.Str(o.CustomerEmail) })
	e.Field("delivery_address", func(e *jx.Encoder) { e.Str(o.DeliveryAddress) })
	e.Field("delivery_city", func(e *jx.Encoder) { e.Str(o.DeliveryCity) })
	e.Field("delivery_note", func(e *jx.Encoder) { e.Str(o.DeliveryNote) })
	e.Field("total_amount", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
	e.Field("payment_method", func(e *jx.Encoder) {
		if o.PaymentMethod == "" {
			e.Null()
			return
		}
		e.Str(string(o.PaymentMethod))
	})
	if showPayment {
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("payment_number", func(e *jx.Encoder) { e.Str(o.PaymentNumber) })
		e.Field("transaction_id", func(e *jx.Encoder) { e.Str(o.TransactionID) })
	}
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for i := range o.Items {
			encodeItem(e, &o.Items[i])
		}
		e.ArrEnd()
	})
	e.ObjEnd()
}

func (v orderView) encodeList(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		v.encode(e, &orders[i])
	}
	e.ArrEnd()
}

func encodeItem(e *jx.Encoder, it *order.Item) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Int64(it.ID) })
	e.Field("product", func(e *jx.Encoder) {
		if it.ProductID == nil {
			e.Null()
			return
		}
		e.Int64(*it.ProductID)
	})
	e.Field("product_name", func(e *jx.Encoder) { e.Str(it.ProductName) })
	e.Field("size", func(e *jx.Encoder) { e.Str(it.Size) })
	e.Field("color", func(e *jx.Encoder) { e.Str(it.Color) })
	e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
	e.Field("price", func(e *jx.Encoder) { e.Str(it.Price.StringFixed(2)) })
	e.Field("subtotal", func(e *jx.Encoder) { e.Str(it.Subtotal().StringFixed(2)) })
	e.ObjEnd()
}
