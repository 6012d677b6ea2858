package withdrawal

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, req *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests
			(id, seller_id, amount, bank_account, status, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, NOW(), NOW())
	`, req.ID, req.SellerID, req.Amount.StringFixed(2), req.BankAccount, string(req.Status))
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	return p.scanRequest(p.db.QueryRowContext(ctx, requestSelect+` WHERE id = $1`, id))
}

// Transition is the withdrawal CAS: the status predicate guarantees a
// request reaches a terminal state at most once across replicas.
func (p *PostgresStore) Transition(ctx context.Context, req *Request, from Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET
			status        = $3,
			transfer_code = NULLIF($4, ''),
			reason        = NULLIF($5, ''),
			processed_at  = $6,
			updated_at    = NOW()
		WHERE id = $1 AND status = $2
	`, req.ID, string(from), string(req.Status), req.TransferCode, req.Reason, req.ProcessedAt)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, getErr := p.Get(ctx, req.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, requestSelect+`
		WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	return p.collect(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, requestSelect+`
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	return p.collect(rows)
}

const requestSelect = `
	SELECT id, seller_id, amount, bank_account, status,
	       COALESCE(transfer_code, ''), COALESCE(reason, ''), processed_at, created_at, updated_at
	FROM withdrawal_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanRequest(row rowScanner) (*Request, error) {
	r := &Request{}
	err := row.Scan(&r.ID, &r.SellerID, &r.Amount, &r.BankAccount, &r.Status,
		&r.TransferCode, &r.Reason, &r.ProcessedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) collect(rows *sql.Rows) ([]*Request, error) {
	defer rows.Close()
	var requests []*Request
	for rows.Next() {
		r, err := p.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
