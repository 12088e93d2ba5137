package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-orders/internal/domain/order"
	"github.com/xenking/shop-orders/internal/domain/product"
)

const (
	lockProductSQL = `SELECT id, name, price, stock, sold FROM products WHERE id = $1 FOR UPDATE`

	saveProductSQL = `UPDATE products SET stock = $2, sold = $3 WHERE id = $1`

	codeExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_code = $1)`

	insertOrderSQL = `INSERT INTO orders (order_code, user_id, customer_name, contact_number, customer_email,
		delivery_address, delivery_city, delivery_note, total_amount, payment_method, payment_status,
		payment_number, transaction_id, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id, created_at`

	insertItemSQL = `INSERT INTO order_items (order_id, product_id, size, color, quantity, price)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

	setTotalSQL = `UPDATE orders SET total_amount = $2 WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	updateStatusSQL = `UPDATE orders SET status = $2, payment_status = $3 WHERE id = $1`
)

var _ order.Tx = (*unitOfWork)(nil)

// unitOfWork implements order.Tx on top of a single pgx transaction.
type unitOfWork struct {
	tx pgx.Tx
}

func (u *unitOfWork) LockAndGet(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := u.tx.Query(ctx, lockProductSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "lock product %d", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanLedgerProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "lock product %d", id)
	}
	return &p, nil
}

func (u *unitOfWork) Save(ctx context.Context, p *product.Product) error {
	if _, err := u.tx.Exec(ctx, saveProductSQL, p.ID, p.Stock, p.Sold); err != nil {
		return errors.Wrapf(err, "save product %d", p.ID)
	}
	return nil
}

func (u *unitOfWork) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := u.tx.QueryRow(ctx, codeExistsSQL, code).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check order code")
	}
	return exists, nil
}

func (u *unitOfWork) InsertOrder(ctx context.Context, o *order.Order) error {
	err := u.tx.QueryRow(ctx, insertOrderSQL,
		o.Code, o.UserID, o.CustomerName, o.ContactNumber, o.CustomerEmail,
		o.DeliveryAddress, o.DeliveryCity, o.DeliveryNote, o.Total, string(o.PaymentMethod),
		string(o.PaymentStatus), o.PaymentNumber, o.TransactionID, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.Code)
	}
	return nil
}

func (u *unitOfWork) InsertItem(ctx context.Context, item *order.Item) error {
	err := u.tx.QueryRow(ctx, insertItemSQL,
		item.OrderID, item.ProductID, item.Size, item.Color, item.Quantity, item.Price,
	).Scan(&item.ID)
	if err != nil {
		return errors.Wrapf(err, "insert item of order %d", item.OrderID)
	}
	return nil
}

func (u *unitOfWork) SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	if _, err := u.tx.Exec(ctx, setTotalSQL, orderID, total); err != nil {
		return errors.Wrapf(err, "set total of order %d", orderID)
	}
	return nil
}

func (u *unitOfWork) LockOrder(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := u.tx.Query(ctx, lockOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "lock order %d", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Resource: "order", ID: id}
		}
		return nil, errors.Wrapf(err, "lock order %d", id)
	}

	items, err := loadItems(ctx, u.tx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (u *unitOfWork) UpdateStatus(ctx context.Context, o *order.Order) error {
	if _, err := u.tx.Exec(ctx, updateStatusSQL, o.ID, string(o.Status), string(o.PaymentStatus)); err != nil {
		return errors.Wrapf(err, "update order %d", o.ID)
	}
	return nil
}

func scanLedgerProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Sold)
	return p, err
}
