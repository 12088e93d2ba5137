package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shop-orders/internal/domain/access"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Ordering columns accepted by ListFilter.OrderBy, optionally prefixed
// with "-" for descending order.
var orderingFields = map[string]struct{}{
	"total_amount":  {},
	"created_at":    {},
	"delivery_city": {},
	"order_id":      {},
}

// ListFilter narrows an order listing. Zero values mean "no constraint".
type ListFilter struct {
	Scope access.ListScope

	Status        Status
	PaymentStatus PaymentStatus
	DeliveryCity  string
	Total         *decimal.Decimal
	TotalGTE      *decimal.Decimal
	TotalLTE      *decimal.Decimal
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Search        string
	OrderBy       string
	Limit         int
	Offset        int
}

// Normalize validates the filter and fills defaults.
func (f *ListFilter) Normalize() error {
	if f.Status != "" && !f.Status.Valid() {
		return invalidField("status", "Select a valid choice.")
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return invalidField("payment_status", "Select a valid choice.")
	}
	f.Search = strings.TrimSpace(f.Search)

	if f.OrderBy == "" {
		f.OrderBy = "-created_at"
	}
	if _, ok := orderingFields[strings.TrimPrefix(f.OrderBy, "-")]; !ok {
		return invalidField("ordering", "Unsupported ordering field.")
	}

	switch {
	case f.Limit < 0:
		return invalidField("limit", "Ensure this value is greater than or equal to 0.")
	case f.Limit == 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		return invalidField("offset", "Ensure this value is greater than or equal to 0.")
	}
	return nil
}

// OrderColumn returns the ordering column without its direction prefix and
// whether the order is descending.
func (f *ListFilter) OrderColumn() (column string, desc bool) {
	if strings.HasPrefix(f.OrderBy, "-") {
		return f.OrderBy[1:], true
	}
	return f.OrderBy, false
}
