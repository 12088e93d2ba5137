package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the ledger view of a catalog item: its price and stock counters.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
	Sold  int
}

// Available reports whether qty units can be taken from stock.
func (p *Product) Available(qty int) bool {
	return qty > 0 && p.Stock >= qty
}

// Deduct moves qty units from stock to sold. Callers must check Available
// while holding the row lock.
func (p *Product) Deduct(qty int) {
	p.Stock -= qty
	p.Sold += qty
}

// Restore puts qty units back onto stock. The sold counter is kept as is.
func (p *Product) Restore(qty int) {
	p.Stock += qty
}

// Ledger is the locked read-modify-write view of products inside a unit of
// work. LockAndGet holds an exclusive row lock until the enclosing
// transaction ends.
type Ledger interface {
	LockAndGet(ctx context.Context, id int64) (*Product, error)
	Save(ctx context.Context, p *Product) error
}

// Catalog is the non-transactional product store used by the seeder.
// GetByID reads a product back without locking it.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	Upsert(ctx context.Context, p *Product) error
}
