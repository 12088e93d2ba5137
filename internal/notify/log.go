package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/order"
)

var _ order.Notifier = Log{}

// Log reports guest orders to the request logger. It is used when no Kafka
// brokers are configured.
type Log struct{}

func (Log) GuestOrderPlaced(ctx context.Context, evt order.GuestOrder) {
	zctx.From(ctx).Info("Guest order placed",
		zap.Int64("order_id", evt.OrderID),
		zap.String("code", evt.Code),
		zap.String("total", evt.Total.StringFixed(2)),
		zap.String("city", evt.DeliveryCity),
		zap.String("client_ip", evt.ClientIP),
	)
}
