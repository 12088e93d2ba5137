package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shop-orders/internal/domain/access"
	"github.com/xenking/shop-orders/internal/domain/order"
)

const orderColumns = `id, order_code, user_id, customer_name, contact_number, customer_email,
	delivery_address, delivery_city, delivery_note, total_amount, payment_method, payment_status,
	payment_number, transaction_id, status, created_at`

const (
	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	// Items keep insertion order. Product names come from the catalog and
	// are empty once the product was deleted.
	listItemsSQL = `SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, ''), oi.size, oi.color,
		oi.quantity, oi.price
	FROM order_items oi
	LEFT JOIN products p ON p.id = oi.product_id
	WHERE oi.order_id = ANY($1)
	ORDER BY oi.order_id, oi.id`
)

// Ordering parameters mapped to columns.
var orderByColumns = map[string]string{
	"total_amount":  "total_amount",
	"created_at":    "created_at",
	"delivery_city": "delivery_city",
	"order_id":      "order_code",
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, classify(errors.Wrapf(err, "get order %d", id))
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Resource: "order", ID: id}
		}
		return nil, classify(errors.Wrapf(err, "get order %d", id))
	}

	items, err := loadItems(ctx, r.pool, []int64{o.ID})
	if err != nil {
		return nil, classify(err)
	}
	o.Items = items[o.ID]
	return &o, nil
}

// List returns the orders matching f, each with its items. f must be
// normalized.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	query, args := buildListQuery(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(errors.Wrap(err, "list orders"))
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, classify(errors.Wrap(err, "list orders"))
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := loadItems(ctx, r.pool, ids)
	if err != nil {
		return nil, classify(err)
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// buildListQuery renders the filter into a parameterized SELECT. Only
// values travel as arguments; column names come from fixed tables.
func buildListQuery(f order.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Scope.Kind == access.ScopeOwner {
		add("user_id = $%d", f.Scope.OwnerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if f.DeliveryCity != "" {
		add("delivery_city = $%d", f.DeliveryCity)
	}
	if f.Total != nil {
		add("total_amount = $%d", *f.Total)
	}
	if f.TotalGTE != nil {
		add("total_amount >= $%d", *f.TotalGTE)
	}
	if f.TotalLTE != nil {
		add("total_amount <= $%d", *f.TotalLTE)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}
	if f.Search != "" {
		add("(customer_name ILIKE $%[1]d OR customer_email ILIKE $%[1]d"+
			" OR contact_number ILIKE $%[1]d OR delivery_city ILIKE $%[1]d)",
			"%"+escapeLike(f.Search)+"%")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(orderColumns)
	b.WriteString(" FROM orders")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	column, desc := f.OrderColumn()
	col, ok := orderByColumns[column]
	if !ok {
		col, desc = "created_at", true
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s", col, dir, dir)

	args = append(args, f.Limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	args = append(args, f.Offset)
	fmt.Fprintf(&b, " OFFSET $%d", len(args))

	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]order.Item, error) {
	rows, err := q.Query(ctx, listItemsSQL, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}

	byOrder := make(map[int64][]order.Item, len(orderIDs))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	return byOrder, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	var paymentMethod, paymentStatus, status string
	err := row.Scan(
		&o.ID, &o.Code, &o.UserID, &o.CustomerName, &o.ContactNumber, &o.CustomerEmail,
		&o.DeliveryAddress, &o.DeliveryCity, &o.DeliveryNote, &o.Total, &paymentMethod, &paymentStatus,
		&o.PaymentNumber, &o.TransactionID, &status, &o.CreatedAt,
	)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Size, &it.Color,
		&it.Quantity, &it.Price,
	)
	return it, err
}
