package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shop-orders/internal/domain/order"
)

const dateLayout = "2006-01-02"

// parseListQuery maps query parameters onto an order.ListFilter. Values
// that cannot be parsed are reported per parameter.
func parseListQuery(q url.Values) (order.ListFilter, error) {
	var (
		f    order.ListFilter
		errs = fieldErrors{}
	)

	f.Status = order.Status(strings.TrimSpace(q.Get("status")))
	f.PaymentStatus = order.PaymentStatus(strings.TrimSpace(q.Get("payment_status")))
	f.DeliveryCity = strings.TrimSpace(q.Get("delivery_city"))
	f.Search = q.Get("search")
	f.OrderBy = strings.TrimSpace(q.Get("ordering"))

	f.Total = parseDecimal(q, "total_amount", errs)
	f.TotalGTE = parseDecimal(q, "total_amount__gte", errs)
	f.TotalLTE = parseDecimal(q, "total_amount__lte", errs)
	f.CreatedAfter = parseTime(q, "created_at__gte", false, errs)
	f.CreatedBefore = parseTime(q, "created_at__lte", true, errs)
	f.Limit = parseInt(q, "limit", errs)
	f.Offset = parseInt(q, "offset", errs)

	return f, errs.err()
}

func parseDecimal(q url.Values, key string, errs fieldErrors) *decimal.Decimal {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		errs[key] = "Enter a number."
		return nil
	}
	return &d
}

// parseTime accepts RFC 3339 timestamps and plain dates. A plain date used
// as an upper bound covers the whole day.
func parseTime(q url.Values, key string, upper bool, errs fieldErrors) *time.Time {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		errs[key] = "Enter a valid date/time."
		return nil
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}

func parseInt(q url.Values, key string, errs fieldErrors) int {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		errs[key] = "A valid integer is required."
		return 0
	}
	return n
}
