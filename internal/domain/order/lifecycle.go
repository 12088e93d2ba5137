package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/access"
)

// Patch is a partial lifecycle update. Unknown lists every other field the
// client tried to change.
type Patch struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	Unknown       []string
}

// Empty reports whether the patch carries no change at all.
func (p Patch) Empty() bool {
	return p.Status == nil && p.PaymentStatus == nil && len(p.Unknown) == 0
}

func (p Patch) validate() error {
	if len(p.Unknown) > 0 {
		verr := &ValidationError{
			Message: "only status fields may be updated by admin",
			Fields:  make(map[string]string, len(p.Unknown)),
		}
		for _, f := range p.Unknown {
			verr.Fields[f] = "only status fields may be updated by admin"
		}
		return verr
	}

	fields := map[string]string{}
	if p.Status != nil && !p.Status.Valid() {
		fields["status"] = "Select a valid choice. " + string(*p.Status) + " is not one of the available choices."
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		fields["payment_status"] = "Select a valid choice. " + string(*p.PaymentStatus) + " is not one of the available choices."
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "Validation error", Fields: fields}
	}
	return nil
}

// Update applies a status and payment status change. Moving an order to
// cancelled puts every item quantity back onto its product's stock in the
// same transaction. Cancelled orders are never modified again.
func (s *Service) Update(ctx context.Context, id access.Identity, orderID int64, p Patch) (*Order, error) {
	if !access.Allowed(id, access.ActionUpdate, nil) {
		return nil, &PermissionError{Action: "update"}
	}

	var (
		updated    *Order
		nowCancels bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Cancelled() {
			return &InvalidStateError{
				OrderID: o.ID,
				Status:  o.Status,
				Reason:  "This order has been cancelled and cannot be modified.",
			}
		}
		if err := p.validate(); err != nil {
			return err
		}
		if p.Empty() {
			updated = o
			return nil
		}

		if p.Status != nil && *p.Status == StatusCancelled {
			if err := restoreStock(ctx, tx, o.Items); err != nil {
				return err
			}
			nowCancels = true
		}
		if p.Status != nil {
			o.Status = *p.Status
		}
		if p.PaymentStatus != nil {
			o.PaymentStatus = *p.PaymentStatus
		}
		if err := tx.UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update status")
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if nowCancels {
		s.cancelled.Add(ctx, 1)
	}
	zctx.From(ctx).Info("Order updated",
		zap.Int64("order_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("payment_status", string(updated.PaymentStatus)),
		zap.Bool("cancelled", nowCancels),
	)
	return updated, nil
}

// restoreStock locks the products referenced by items in ascending ID order
// and puts each item quantity back onto stock. Items whose product was
// deleted are skipped.
func restoreStock(ctx context.Context, tx Tx, items []Item) error {
	qty := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ProductID == nil {
			continue
		}
		pid := *it.ProductID
		if _, ok := qty[pid]; !ok {
			ids = append(ids, pid)
		}
		qty[pid] += it.Quantity
	}
	if len(ids) == 0 {
		return nil
	}

	locked, order, err := lockProducts(ctx, tx, ids)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			// Deleted between the order read and the lock; nothing to restore.
			return restoreStock(ctx, tx, withoutProduct(items, nf.ID))
		}
		return err
	}
	for _, pid := range order {
		p := locked[pid]
		p.Restore(qty[pid])
		if err := tx.Save(ctx, p); err != nil {
			return errors.Wrapf(err, "save product %d", pid)
		}
	}
	return nil
}

func withoutProduct(items []Item, pid int64) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ProductID != nil && *it.ProductID == pid {
			continue
		}
		out = append(out, it)
	}
	return out
}
