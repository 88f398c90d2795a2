package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StockRepo struct{ DB *pgxpool.Pool }

// reserveUnitsTx locks the oldest available units for a product and moves
// exactly qty of them to reserved, recording one allocation per unit. Runs
// inside the caller's transaction so a shortfall on any line rolls the whole
// order back. Oldest-first keeps selection deterministic and starvation-free.
func reserveUnitsTx(ctx context.Context, tx pgx.Tx, orderID, lineID, productCode string, qty int, until time.Time) ([]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM stock_units
		WHERE product_code=$1 AND status='available'
		ORDER BY id
		LIMIT $2
		FOR UPDATE`, productCode, qty)
	if err != nil {
		return nil, err
	}
	var unitIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		unitIDs = append(unitIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(unitIDs) < qty {
		return nil, fmt.Errorf("%w: product %s has %d of %d", ErrInsufficientStock, productCode, len(unitIDs), qty)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE stock_units
		SET status='reserved', reserved_order_id=$1, reserved_until=$2
		WHERE id = ANY($3) AND status='available'`, orderID, until, unitIDs)
	if err != nil {
		return nil, err
	}
	if int(ct.RowsAffected()) != len(unitIDs) {
		// rows were locked, so this means a bug, not a race
		return nil, fmt.Errorf("reserve %s: updated %d of %d units", productCode, ct.RowsAffected(), len(unitIDs))
	}

	for _, uid := range unitIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_allocations(order_line_id, unit_id, status, reserved_until)
			VALUES ($1,$2,'reserved',$3)`, lineID, uid, until); err != nil {
			return nil, err
		}
	}
	return unitIDs, nil
}

// releaseOrderUnitsTx reverts an order's reserved units to available and
// their allocations to released, inside the caller's transaction. Idempotent:
// sold or already-released rows are untouched. Returns the number of units
// freed.
func releaseOrderUnitsTx(ctx context.Context, tx pgx.Tx, orderID string) (int, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE stock_units
		SET status='available', reserved_order_id=NULL, reserved_until=NULL
		WHERE reserved_order_id=$1 AND status='reserved'`, orderID)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE order_allocations a
		SET status='released'
		FROM order_lines l
		WHERE a.order_line_id = l.id AND l.order_id=$1 AND a.status='reserved'`, orderID)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

type NewUnit struct {
	Username     string `json:"username" validate:"required"`
	SecretSealed string `json:"-"`
}

// AddUnits loads sealed credentials into the ledger as available stock.
func (s *StockRepo) AddUnits(ctx context.Context, productCode string, units []NewUnit) (int, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE code=$1 AND active)`, productCode).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("product not found: %s", productCode)
	}

	for _, u := range units {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_units(product_code, username, secret_sealed, status)
			VALUES ($1,$2,$3,'available')`, productCode, u.Username, u.SecretSealed); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(units), nil
}

// CountByStatus reports per-status unit counts for a product. The invariant
// to watch: available+reserved+sold never changes under reservation traffic.
func (s *StockRepo) CountByStatus(ctx context.Context, productCode string) (map[UnitStatus]int, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT status, COUNT(*) FROM stock_units WHERE product_code=$1 GROUP BY status`, productCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[UnitStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[UnitStatus(st)] = n
	}
	return out, rows.Err()
}
