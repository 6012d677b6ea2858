package settlement

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settlement store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateOrder(ctx context.Context, order *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, buyer_id, seller_id, total, payment_method, payment_ref, status,
			 payment_status, commission_amount, escrow_amount, seller_payout,
			 escrow_released, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5, NULLIF($6, ''), $7, $8,
		        $9::NUMERIC(20,2), $10::NUMERIC(20,2), $11::NUMERIC(20,2), $12, NOW(), NOW())
	`, order.ID, order.BuyerID, order.SellerID, order.Total.StringFixed(2),
		string(order.PaymentMethod), order.PaymentRef, string(order.Status),
		string(order.PaymentStatus), order.CommissionAmount.StringFixed(2),
		order.EscrowAmount.StringFixed(2), order.SellerPayout.StringFixed(2),
		order.EscrowReleased)
	return err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o := &Order{}
	var paymentRef sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, seller_id, total, payment_method, payment_ref, status,
		       payment_status, commission_amount, escrow_amount, seller_payout,
		       escrow_released, created_at, updated_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.Total, &o.PaymentMethod, &paymentRef,
		&o.Status, &o.PaymentStatus, &o.CommissionAmount, &o.EscrowAmount,
		&o.SellerPayout, &o.EscrowReleased, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentRef = paymentRef.String
	return o, nil
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, order *Order) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status            = $2,
			payment_status    = $3,
			escrow_amount     = $4::NUMERIC(20,2),
			escrow_released   = $5,
			updated_at        = NOW()
		WHERE id = $1
	`, order.ID, string(order.Status), string(order.PaymentStatus),
		order.EscrowAmount.StringFixed(2), order.EscrowReleased)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) CreateHold(ctx context.Context, hold *Hold) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_holds
			(id, order_id, buyer_id, seller_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, NOW(), NOW())
	`, hold.ID, hold.OrderID, hold.BuyerID, hold.SellerID,
		hold.Amount.StringFixed(2), string(hold.Status))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation on order_id
		return ErrHoldExists
	}
	return err
}

func (p *PostgresStore) GetHold(ctx context.Context, id string) (*Hold, error) {
	return p.scanHold(p.db.QueryRowContext(ctx, holdSelect+` WHERE id = $1`, id))
}

func (p *PostgresStore) GetHoldByOrder(ctx context.Context, orderID string) (*Hold, error) {
	return p.scanHold(p.db.QueryRowContext(ctx, holdSelect+` WHERE order_id = $1`, orderID))
}

// TransitionHold is the settlement CAS: the status predicate makes the
// terminal transition exclusive even across engine replicas.
func (p *PostgresStore) TransitionHold(ctx context.Context, hold *Hold, from Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_holds SET
			status        = $3,
			released_at   = $4,
			refunded_at   = $5,
			refund_reason = NULLIF($6, ''),
			updated_at    = NOW()
		WHERE id = $1 AND status = $2
	`, hold.ID, string(from), string(hold.Status),
		hold.ReleasedAt, hold.RefundedAt, hold.RefundReason)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish missing from already settled.
		if _, getErr := p.GetHold(ctx, hold.ID); getErr != nil {
			return getErr
		}
		return ErrAlreadySettled
	}
	return nil
}

func (p *PostgresStore) ListHoldsBySeller(ctx context.Context, sellerID string, limit int) ([]*Hold, error) {
	rows, err := p.db.QueryContext(ctx, holdSelect+`
		WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []*Hold
	for rows.Next() {
		h, err := p.scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

const holdSelect = `
	SELECT id, order_id, buyer_id, seller_id, amount, status,
	       released_at, refunded_at, COALESCE(refund_reason, ''), created_at, updated_at
	FROM escrow_holds`

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanHold(row rowScanner) (*Hold, error) {
	h := &Hold{}
	err := row.Scan(&h.ID, &h.OrderID, &h.BuyerID, &h.SellerID, &h.Amount, &h.Status,
		&h.ReleasedAt, &h.RefundedAt, &h.RefundReason, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}
