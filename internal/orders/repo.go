package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

type LineInput struct {
	ProductCode string `json:"productCode" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	PriceCents  int64  `json:"price" validate:"gte=0"`
}

type CreateOrderInput struct {
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Lines         []LineInput
	Hold          time.Duration
}

// CreateOrder creates the order, its lines, and the unit reservations in one
// transaction. Any line that cannot be fully reserved rolls back the whole
// order; nothing is left half-reserved.
//
// Prices come from the products table, never from the client. A client-sent
// price is only checked against the catalog.
func (r *Repo) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	codes := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		codes = append(codes, l.ProductCode)
	}
	rows, err := tx.Query(ctx,
		`SELECT code, price_cents FROM products WHERE code = ANY($1) AND active`, codes)
	if err != nil {
		return nil, err
	}
	prices := map[string]int64{}
	for rows.Next() {
		var code string
		var price int64
		if err := rows.Scan(&code, &price); err != nil {
			rows.Close()
			return nil, err
		}
		prices[code] = price
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total int64
	for _, l := range in.Lines {
		price, ok := prices[l.ProductCode]
		if !ok {
			return nil, fmt.Errorf("product not found: %s", l.ProductCode)
		}
		if l.PriceCents != 0 && l.PriceCents != price {
			return nil, fmt.Errorf("price mismatch for %s: got %d want %d", l.ProductCode, l.PriceCents, price)
		}
		total += price * int64(l.Quantity)
	}

	code, err := NewOrderCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	until := now.Add(in.Hold)

	ord := &Order{
		ID:            uuid.NewString(),
		OrderCode:     code,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		CustomerPhone: in.CustomerPhone,
		Status:        OrderPendingPayment,
		AmountTotal:   total,
		ReservedUntil: &until,
		CreatedAt:     now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_code, customer_name, customer_email, customer_phone, status, amount_total, reserved_until)
		VALUES ($1,$2,$3,$4,$5,'pending_payment',$6,$7)`,
		ord.ID, ord.OrderCode, ord.CustomerName, ord.CustomerEmail, ord.CustomerPhone, ord.AmountTotal, until)
	if err != nil {
		return nil, err
	}

	for _, l := range in.Lines {
		lineID := uuid.NewString()
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines(id, order_id, product_code, quantity, price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			lineID, ord.ID, l.ProductCode, l.Quantity, prices[l.ProductCode])
		if err != nil {
			return nil, err
		}
		if _, err := reserveUnitsTx(ctx, tx, ord.ID, lineID, l.ProductCode, l.Quantity, until); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ord, nil
}

// FindByCode is the webhook matching lookup; any status, so the caller can
// tell a replay on a fulfilled order from a stale or unknown code.
func (r *Repo) FindByCode(ctx context.Context, orderCode string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_code, customer_name, customer_email, customer_phone, status, amount_total, reserved_until, created_at, updated_at
		FROM orders WHERE order_code=$1`, orderCode).
		Scan(&o.ID, &o.OrderCode, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
			&o.Status, &o.AmountTotal, &o.ReservedUntil, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetStatusByCode(ctx context.Context, orderCode string) (OrderStatus, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE order_code=$1`, orderCode).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return OrderStatus(s), nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT code, name, price_cents, active, created_at, updated_at
		FROM products WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Code, &p.Name, &p.PriceCents, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListExpired returns pending orders whose hold has lapsed, oldest first.
func (r *Repo) ListExpired(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_code, customer_email, amount_total
		FROM orders
		WHERE status='pending_payment' AND reserved_until < $1
		ORDER BY reserved_until
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.OrderCode, &o.CustomerEmail, &o.AmountTotal); err != nil {
			return nil, err
		}
		o.Status = OrderPendingPayment
		out = append(out, o)
	}
	return out, rows.Err()
}

// ExpireOrder is the reaper's whole expiry in one transaction: CAS the order
// out of pending_payment first, then free its reserved units while the order
// row is still locked. won=false means a webhook moved the order first.
// If fulfillment promoted the units between the sweep's listing and this
// call, the release matches nothing and the expiry rolls back, so the
// fulfillment side keeps a pending order it can CAS to fulfilled.
func (r *Repo) ExpireOrder(ctx context.Context, orderID string) (released int, won bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status='expired', reserved_until=NULL, updated_at=now()
		WHERE id=$1 AND status='pending_payment'`, orderID)
	if err != nil {
		return 0, false, err
	}
	if ct.RowsAffected() == 0 {
		return 0, false, nil
	}

	released, err = releaseOrderUnitsTx(ctx, tx, orderID)
	if err != nil {
		return 0, false, err
	}
	if released == 0 {
		var sold bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stock_units WHERE sold_order_id=$1)`, orderID).Scan(&sold); err != nil {
			return 0, false, err
		}
		if sold {
			// promotion won the unit rows; abandon the expiry
			return 0, false, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return released, true, nil
}
