package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shop-orders/internal/domain/product"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the manually recorded payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// PaymentMethod is the payment channel chosen by the customer. The empty
// value means no method was selected.
type PaymentMethod string

const (
	PaymentBkash  PaymentMethod = "bkash"
	PaymentRocket PaymentMethod = "rocket"
	PaymentNagad  PaymentMethod = "nagad"
	PaymentCOD    PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBkash, PaymentRocket, PaymentNagad, PaymentCOD:
		return true
	}
	return false
}

// Order is the order header together with its line items.
type Order struct {
	ID              int64
	Code            string
	UserID          *int64
	CustomerName    string
	ContactNumber   string
	CustomerEmail   string
	DeliveryAddress string
	DeliveryCity    string
	DeliveryNote    string
	Total           decimal.Decimal
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	PaymentNumber   string
	TransactionID   string
	Status          Status
	CreatedAt       time.Time
	Items           []Item
}

// Guest reports whether the order has no owning identity.
func (o *Order) Guest() bool { return o.UserID == nil }

// Cancelled reports whether the order reached its terminal state.
func (o *Order) Cancelled() bool { return o.Status == StatusCancelled }

// ComputeTotal returns the sum of item subtotals rounded half-up to 2dp.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range o.Items {
		total = total.Add(o.Items[i].Subtotal())
	}
	return total.Round(2)
}

// Item is a single order line. Price is the unit price captured when the
// order was placed.
type Item struct {
	ID          int64
	OrderID     int64
	ProductID   *int64
	ProductName string
	Size        string
	Color       string
	Quantity    int
	Price       decimal.Decimal
}

// Subtotal is price × quantity rounded half-up to 2 decimal places.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

// Tx is the unit of work the creation and lifecycle transactions run in.
// Every method observes and mutates state inside the same database
// transaction.
type Tx interface {
	product.Ledger

	CodeExists(ctx context.Context, code string) (bool, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItem(ctx context.Context, item *Item) error
	SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
	// LockOrder loads the order with its items and holds its row lock.
	LockOrder(ctx context.Context, id int64) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
}

// Transactor runs fn inside a single atomic transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository provides read access to persisted orders.
type Repository interface {
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
}
