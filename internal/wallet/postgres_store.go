package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetWallet retrieves a seller's wallet
func (p *PostgresStore) GetWallet(ctx context.Context, sellerID string) (*Wallet, error) {
	w := &Wallet{SellerID: sellerID}

	err := p.db.QueryRowContext(ctx, `
		SELECT balance, version, updated_at
		FROM seller_wallets WHERE seller_id = $1
	`, sellerID).Scan(&w.Balance, &w.Version, &w.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ApplyDelta applies a balance delta and the paired entry in one
// serializable transaction. The version predicate is the CAS; the
// balance CHECK constraint backstops the overdraft guard.
func (p *PostgresStore) ApplyDelta(ctx context.Context, sellerID string, expectedVersion int64, delta decimal.Decimal, entry *Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if expectedVersion == 0 {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO seller_wallets (seller_id, balance, version, updated_at)
			VALUES ($1, $2::NUMERIC(20,2), 1, NOW())
			ON CONFLICT (seller_id) DO NOTHING
		`, sellerID, delta.StringFixed(2))
		if err != nil {
			return translatePGError(err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrVersionConflict
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE seller_wallets SET
				balance    = balance + $3::NUMERIC(20,2),
				version    = version + 1,
				updated_at = NOW()
			WHERE seller_id = $1 AND version = $2
		`, sellerID, expectedVersion, delta.StringFixed(2))
		if err != nil {
			return translatePGError(err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrVersionConflict
		}
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// ListEntries returns a user's transaction entries, newest first
func (p *PostgresStore) ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(order_id, ''), type, amount, status,
		       COALESCE(reference, ''), prev_balance, new_balance, COALESCE(reason, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.Type, &e.Amount, &e.Status,
			&e.Reference, &e.PrevBalance, &e.NewBalance, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasEntry reports whether an entry with the reference and type exists
func (p *PostgresStore) HasEntry(ctx context.Context, reference string, typ EntryType) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions WHERE reference = $1 AND type = $2
		)
	`, reference, string(typ)).Scan(&exists)
	return exists, err
}

// ListWallets returns every wallet, ordered by seller ID
func (p *PostgresStore) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT seller_id, balance, version, updated_at
		FROM seller_wallets ORDER BY seller_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w := &Wallet{}
		if err := rows.Scan(&w.SellerID, &w.Balance, &w.Version, &w.UpdatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// EntryDeltaSum sums the recorded balance deltas for a seller
func (p *PostgresStore) EntryDeltaSum(ctx context.Context, sellerID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(new_balance - prev_balance), 0)
		FROM wallet_transactions WHERE user_id = $1
	`, sellerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// RecordEntry appends an audit-only entry outside any balance change
func (p *PostgresStore) RecordEntry(ctx context.Context, entry *Entry) error {
	return insertEntry(ctx, p.db, entry)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, entry *Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, order_id, type, amount, status, reference, prev_balance, new_balance, reason, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::NUMERIC(20,2), $6, NULLIF($7, ''),
		        $8::NUMERIC(20,2), $9::NUMERIC(20,2), NULLIF($10, ''), NOW())
	`, entry.ID, entry.UserID, entry.OrderID, string(entry.Type), entry.Amount.StringFixed(2),
		string(entry.Status), entry.Reference, entry.PrevBalance.StringFixed(2),
		entry.NewBalance.StringFixed(2), entry.Reason)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique index on (reference, type)
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

// translatePGError maps the balance CHECK violation to
// ErrInsufficientBalance and serialization failures to
// ErrVersionConflict so callers can retry.
func translatePGError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation on (reference, type)
			return ErrDuplicateReference
		case "23514": // check_violation
			return ErrInsufficientBalance
		case "40001": // serialization_failure
			return ErrVersionConflict
		}
	}
	return fmt.Errorf("failed to update balance: %w", err)
}
