package orders

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FulfillmentRepo is the sole writer of payments, deliveries, invoices and
// the sold-side audit rows. Every write is an insert-or-no-op behind a unique
// constraint, or an update scoped to the state it is leaving, so the whole
// fulfillment sequence can be re-run from scratch after a crash.
type FulfillmentRepo struct{ DB *pgxpool.Pool }

// AllocatedUnit is one allocation joined with its unit's credential material,
// in allocation-id order: the FIFO delivery contract.
type AllocatedUnit struct {
	AllocationID int64
	UnitID       int64
	Username     string
	SecretSealed string
	Status       AllocationStatus
}

// InsertPayment records a confirmed payment. created=false means the
// (provider, transaction_id) pair was already recorded: a webhook replay.
func (f *FulfillmentRepo) InsertPayment(ctx context.Context, p Payment) (created bool, err error) {
	ct, err := f.DB.Exec(ctx, `
		INSERT INTO payments(order_id, provider, transaction_id, amount_cents, status)
		VALUES ($1,$2,$3,$4,'confirmed')
		ON CONFLICT (provider, transaction_id) DO NOTHING`,
		p.OrderID, p.Provider, p.TransactionID, p.AmountCents)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (f *FulfillmentRepo) PaymentExists(ctx context.Context, provider, transactionID string) (bool, error) {
	var exists bool
	err := f.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE provider=$1 AND transaction_id=$2)`,
		provider, transactionID).Scan(&exists)
	return exists, err
}

// ListAllocations returns the order's reserved and sold allocations by
// ascending allocation id. Released rows are excluded: an expired order
// yields nothing here.
func (f *FulfillmentRepo) ListAllocations(ctx context.Context, orderID string) ([]AllocatedUnit, error) {
	rows, err := f.DB.Query(ctx, `
		SELECT a.id, a.unit_id, u.username, u.secret_sealed, a.status
		FROM order_allocations a
		JOIN order_lines l ON a.order_line_id = l.id
		JOIN stock_units u ON u.id = a.unit_id
		WHERE l.order_id=$1 AND a.status IN ('reserved','sold')
		ORDER BY a.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllocatedUnit
	for rows.Next() {
		var au AllocatedUnit
		if err := rows.Scan(&au.AllocationID, &au.UnitID, &au.Username, &au.SecretSealed, &au.Status); err != nil {
			return nil, err
		}
		out = append(out, au)
	}
	return out, rows.Err()
}

// PromoteAllocations moves the order's reserved units and allocations to
// sold in one transaction. Scoped to status='reserved', so a concurrent
// second run matches zero rows and is a safe no-op.
func (f *FulfillmentRepo) PromoteAllocations(ctx context.Context, orderID string) (int, error) {
	tx, err := f.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE stock_units
		SET status='sold', sold_order_id=$1, reserved_order_id=NULL, reserved_until=NULL
		WHERE reserved_order_id=$1 AND status='reserved'`, orderID)
	if err != nil {
		return 0, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE order_allocations a
		SET status='sold'
		FROM order_lines l
		WHERE a.order_line_id = l.id AND l.order_id=$1 AND a.status='reserved'`, orderID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// MarkFulfilled is the CAS on order status. false is the normal "someone
// else already transitioned it" case, not an error.
func (f *FulfillmentRepo) MarkFulfilled(ctx context.Context, orderID string) (bool, error) {
	ct, err := f.DB.Exec(ctx, `
		UPDATE orders SET status='fulfilled', reserved_until=NULL, updated_at=now()
		WHERE id=$1 AND status='pending_payment'`, orderID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// InsertDelivery is insert-or-get keyed on (order_id, unit_id). The returned
// token is always the one on record, so a replay on a later day cannot swap
// a delivery's token for a freshly derived one.
func (f *FulfillmentRepo) InsertDelivery(ctx context.Context, d Delivery) (string, error) {
	_, err := f.DB.Exec(ctx, `
		INSERT INTO deliveries(order_id, unit_id, delivery_token)
		VALUES ($1,$2,$3)
		ON CONFLICT (order_id, unit_id) DO NOTHING`,
		d.OrderID, d.UnitID, d.DeliveryToken)
	if err != nil {
		return "", err
	}
	var token string
	if err := f.DB.QueryRow(ctx,
		`SELECT delivery_token FROM deliveries WHERE order_id=$1 AND unit_id=$2`,
		d.OrderID, d.UnitID).Scan(&token); err != nil {
		return "", err
	}
	return token, nil
}

// InsertInvoice is insert-or-get: the returned number is always the one on
// record, so a retry can never reassign an invoice number.
func (f *FulfillmentRepo) InsertInvoice(ctx context.Context, orderID, candidate string) (string, error) {
	_, err := f.DB.Exec(ctx, `
		INSERT INTO invoices(order_id, invoice_number, status)
		VALUES ($1,$2,'issued')
		ON CONFLICT (order_id) DO NOTHING`, orderID, candidate)
	if err != nil {
		return "", err
	}
	var number string
	if err := f.DB.QueryRow(ctx,
		`SELECT invoice_number FROM invoices WHERE order_id=$1`, orderID).Scan(&number); err != nil {
		return "", err
	}
	return number, nil
}

// AppendAudit appends one immutable event row. Duplicate rows across retries
// are fine: they are facts about attempts, not state.
func (f *FulfillmentRepo) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := f.DB.Exec(ctx, `
		INSERT INTO audit_logs(event_type, entity_type, entity_id, actor, payload)
		VALUES ($1,$2,$3,$4,$5)`,
		e.EventType, e.EntityType, e.EntityID, e.Actor, e.Payload)
	return err
}
