package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/access"
	"github.com/xenking/shop-orders/internal/domain/product"
)

// CreateResult is the outcome of Create. Replayed is set when the order was
// returned for a repeated idempotency key instead of being placed again.
type CreateResult struct {
	Order    *Order
	Replayed bool
}

// Create validates the request and places the order in one transaction:
// products are locked, stock is deducted, prices are taken from the ledger
// and the total is computed server-side. Nothing is persisted on failure.
func (s *Service) Create(ctx context.Context, id access.Identity, req CreateRequest) (*CreateResult, error) {
	lg := zctx.From(ctx)

	req.trim()
	if err := s.check(&req); err != nil {
		return nil, err
	}

	idemKey, fp := "", ""
	switch {
	case req.IdempotencyKey == "":
	case !id.Authenticated:
		// Guests share no stable scope, so their keys are not honored.
		lg.Debug("Idempotency key ignored for anonymous caller")
	default:
		idemKey, fp = idempotencyScope(id)+req.IdempotencyKey, req.fingerprint()
		o, claimed, err := s.reserve(ctx, id, idemKey, fp)
		if err != nil {
			return nil, err
		}
		if o != nil {
			return &CreateResult{Order: o, Replayed: true}, nil
		}
		if !claimed {
			idemKey = ""
		}
	}

	var placed *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.place(ctx, tx, id, req)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		var oos *OutOfStockError
		if errors.As(err, &oos) {
			s.outOfStock.Add(ctx, 1)
		}
		if idemKey != "" {
			if rerr := s.idem.Release(ctx, idemKey); rerr != nil {
				lg.Warn("Release idempotency key", zap.Error(rerr))
			}
		}
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("guest", placed.Guest()),
		attribute.String("payment_method", string(placed.PaymentMethod)),
	))
	lg.Info("Order placed",
		zap.Int64("order_id", placed.ID),
		zap.String("code", placed.Code),
		zap.Bool("guest", placed.Guest()),
		zap.Int("items", len(placed.Items)),
		zap.String("total", placed.Total.StringFixed(2)),
	)

	if placed.Guest() {
		s.notifier.GuestOrderPlaced(ctx, GuestOrder{
			OrderID:      placed.ID,
			Code:         placed.Code,
			Total:        placed.Total,
			DeliveryCity: placed.DeliveryCity,
			ClientIP:     req.ClientIP,
			CreatedAt:    placed.CreatedAt,
		})
	}
	if idemKey != "" {
		if err := s.idem.Complete(ctx, idemKey, fp, placed.ID); err != nil {
			lg.Warn("Complete idempotency key", zap.Error(err))
		}
	}

	return &CreateResult{Order: placed}, nil
}

// reserve claims key for this placement. It returns the order to replay
// when the same request already completed under key, or claimed=false when
// the store is unavailable and the order is placed without a key.
func (s *Service) reserve(ctx context.Context, id access.Identity, key, fp string) (_ *Order, claimed bool, _ error) {
	lg := zctx.From(ctx)

	r, err := s.idem.Reserve(ctx, key, fp)
	switch {
	case err != nil:
		lg.Warn("Reserve idempotency key", zap.Error(err))
		return nil, false, nil
	case r.Claimed:
		return nil, true, nil
	case r.Fingerprint != fp:
		return nil, false, keyReusedError()
	case r.OrderID == 0:
		return nil, false, &TransientError{Err: errors.New("idempotency key is held by a request in flight")}
	}

	o, err := s.orders.Get(ctx, r.OrderID)
	if err != nil {
		return nil, false, errors.Wrapf(err, "load order %d for idempotency key", r.OrderID)
	}
	if !access.Allowed(id, access.ActionView, o.UserID) {
		return nil, false, keyReusedError()
	}
	return o, false, nil
}

func keyReusedError() *ValidationError {
	return &ValidationError{
		Message: "Validation error",
		Fields: map[string]string{
			"idempotency_key": "This key was already used with a different request.",
		},
	}
}

func idempotencyScope(id access.Identity) string {
	return "user:" + strconv.FormatInt(id.UserID, 10) + ":"
}

// fingerprint digests the trimmed request so a reused key can be told apart
// from a retry of the same body.
func (r *CreateRequest) fingerprint() string {
	h := sha256.New()
	for _, f := range []string{
		r.CustomerName, r.ContactNumber, r.CustomerEmail,
		r.DeliveryAddress, r.DeliveryCity, r.DeliveryNote,
		string(r.PaymentMethod), r.PaymentNumber, r.TransactionID,
	} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	for _, it := range r.Items {
		fmt.Fprintf(h, "%d\x00%d\x00%s\x00%s\x00", it.ProductID, it.Quantity, it.Size, it.Color)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) place(ctx context.Context, tx Tx, id access.Identity, req CreateRequest) (*Order, error) {
	code, err := s.uniqueCode(ctx, tx)
	if err != nil {
		return nil, err
	}

	o := &Order{
		Code:            code,
		UserID:          id.Owner(),
		CustomerName:    req.CustomerName,
		ContactNumber:   req.ContactNumber,
		CustomerEmail:   req.CustomerEmail,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryCity:    req.DeliveryCity,
		DeliveryNote:    req.DeliveryNote,
		Total:           decimal.Zero,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		PaymentNumber:   req.PaymentNumber,
		TransactionID:   req.TransactionID,
		Status:          StatusPending,
	}
	if o.CustomerName == "" && id.Authenticated {
		o.CustomerName = id.Name
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	ids := make([]int64, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.ProductID
	}
	locked, order, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	o.Items = make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		p := locked[it.ProductID]
		if !p.Available(it.Quantity) {
			return nil, &OutOfStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Available: p.Stock,
				Requested: it.Quantity,
			}
		}
		p.Deduct(it.Quantity)

		pid := p.ID
		item := Item{
			OrderID:     o.ID,
			ProductID:   &pid,
			ProductName: p.Name,
			Size:        it.Size,
			Color:       it.Color,
			Quantity:    it.Quantity,
			Price:       p.Price,
		}
		if err := tx.InsertItem(ctx, &item); err != nil {
			return nil, errors.Wrap(err, "insert item")
		}
		total = total.Add(item.Subtotal())
		o.Items = append(o.Items, item)
	}

	for _, pid := range order {
		if err := tx.Save(ctx, locked[pid]); err != nil {
			return nil, errors.Wrapf(err, "save product %d", pid)
		}
	}

	o.Total = total.Round(2)
	if err := tx.SetTotal(ctx, o.ID, o.Total); err != nil {
		return nil, errors.Wrap(err, "set total")
	}
	return o, nil
}

// uniqueCode draws order codes until one is not taken yet. The unique index
// on the code column still guards against a concurrent insert of the same
// code.
func (s *Service) uniqueCode(ctx context.Context, tx Tx) (string, error) {
	for range s.codeAttempts {
		code := s.newCode()
		exists, err := tx.CodeExists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "check order code")
		}
		if !exists {
			return code, nil
		}
	}
	return "", &TransientError{Err: errors.Errorf("no free order code after %d attempts", s.codeAttempts)}
}

// lockProducts takes the row lock of every distinct product in ascending ID
// order, so that two transactions touching overlapping products always lock
// them in the same sequence.
func lockProducts(ctx context.Context, ledger product.Ledger, ids []int64) (map[int64]*product.Product, []int64, error) {
	order := slices.Clone(ids)
	slices.Sort(order)
	order = slices.Compact(order)

	locked := make(map[int64]*product.Product, len(order))
	for _, pid := range order {
		p, err := ledger.LockAndGet(ctx, pid)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, nil, &NotFoundError{Resource: "product", ID: pid}
			}
			return nil, nil, errors.Wrapf(err, "lock product %d", pid)
		}
		locked[pid] = p
	}
	return locked, order, nil
}
