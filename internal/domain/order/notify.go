package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GuestOrder describes an order placed without an identity, reported for
// analytics after the creation transaction committed.
type GuestOrder struct {
	OrderID      int64
	Code         string
	Total        decimal.Decimal
	DeliveryCity string
	ClientIP     string
	CreatedAt    time.Time
}

// Notifier is a best-effort side channel. Implementations must not block
// and their failures must never reach the caller.
type Notifier interface {
	GuestOrderPlaced(ctx context.Context, evt GuestOrder)
}

// IdempotencyStore reserves client-supplied keys before an order is placed
// and remembers which order each key produced.
type IdempotencyStore interface {
	// Reserve claims key for a placement of the request identified by
	// fingerprint. When the key is already held the holder is reported and
	// Claimed is false.
	Reserve(ctx context.Context, key, fingerprint string) (Reservation, error)
	// Complete records the order placed under a claimed key.
	Complete(ctx context.Context, key, fingerprint string, orderID int64) error
	// Release drops a claimed key whose placement failed.
	Release(ctx context.Context, key string) error
}

// Reservation is the state of an idempotency key after Reserve.
type Reservation struct {
	Claimed     bool
	Fingerprint string
	// OrderID is zero while the holder is still placing its order.
	OrderID int64
}

type nopNotifier struct{}

func (nopNotifier) GuestOrderPlaced(context.Context, GuestOrder) {}

type nopIdempotency struct{}

func (nopIdempotency) Reserve(_ context.Context, _, fp string) (Reservation, error) {
	return Reservation{Claimed: true, Fingerprint: fp}, nil
}

func (nopIdempotency) Complete(context.Context, string, string, int64) error { return nil }

func (nopIdempotency) Release(context.Context, string) error { return nil }
