// Package notify delivers best-effort order notifications outside the order
// transaction.
package notify

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/shop-orders/internal/domain/order"
)

// EventGuestOrderPlaced is the event type of guest order notifications.
const EventGuestOrderPlaced = "order.guest_placed"

// encodeGuestOrder renders evt as the JSON event payload.
func encodeGuestOrder(evt order.GuestOrder) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.Field("event_id", func(e *jx.Encoder) { e.Str(uuid.NewString()) })
	e.Field("event_type", func(e *jx.Encoder) { e.Str(EventGuestOrderPlaced) })
	e.Field("order_id", func(e *jx.Encoder) { e.Int64(evt.OrderID) })
	e.Field("order_code", func(e *jx.Encoder) { e.Str(evt.Code) })
	e.Field("total_amount", func(e *jx.Encoder) { e.Str(evt.Total.StringFixed(2)) })
	e.Field("delivery_city", func(e *jx.Encoder) { e.Str(evt.DeliveryCity) })
	e.Field("client_ip", func(e *jx.Encoder) { e.Str(evt.ClientIP) })
	e.Field("created_at", func(e *jx.Encoder) { e.Str(evt.CreatedAt.UTC().Format(time.RFC3339)) })
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}
