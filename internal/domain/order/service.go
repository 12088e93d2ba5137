package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/shop-orders/internal/domain/access"
)

const defaultCodeAttempts = 5

// Service encapsulates order placement, lifecycle and read logic.
type Service struct {
	tx       Transactor
	orders   Repository
	notifier Notifier
	idem     IdempotencyStore
	validate *validator.Validate

	meterProvider metric.MeterProvider
	created       metric.Int64Counter
	cancelled     metric.Int64Counter
	outOfStock    metric.Int64Counter

	newCode      func() string
	codeAttempts int
}

// Option configures optional Service collaborators.
type Option func(s *Service)

// WithNotifier sets the side channel used to report guest orders.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithIdempotency enables Idempotency-Key handling on Create.
func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idem = store }
}

// WithMeterProvider sets the provider for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// NewService creates an order Service on top of the unit of work and the
// read repository.
func NewService(tx Transactor, orders Repository, opts ...Option) (*Service, error) {
	s := &Service{
		tx:            tx,
		orders:        orders,
		notifier:      nopNotifier{},
		idem:          nopIdempotency{},
		validate:      newValidator(),
		meterProvider: noop.NewMeterProvider(),
		newCode:       NewCode,
		codeAttempts:  defaultCodeAttempts,
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter("github.com/xenking/shop-orders/internal/domain/order")
	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.cancelled, err = meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled with stock restored"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled counter")
	}
	if s.outOfStock, err = meter.Int64Counter("orders.out_of_stock",
		metric.WithDescription("Order placements rejected for insufficient stock"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.out_of_stock counter")
	}
	return s, nil
}

// Get returns a single order if the caller may see it. Hidden orders are
// reported as not found.
func (s *Service) Get(ctx context.Context, id access.Identity, orderID int64) (*Order, error) {
	if !id.Authenticated {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(id, access.ActionView, o.UserID) {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	return o, nil
}

// List returns the orders visible to the caller that match f.
func (s *Service) List(ctx context.Context, id access.Identity, f ListFilter) ([]Order, error) {
	f.Scope = access.Scope(id)
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	if f.Scope.Kind == access.ScopeNone {
		return []Order{}, nil
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
