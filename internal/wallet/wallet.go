// Package wallet tracks seller balances on the platform.
//
// Flow:
//  1. Escrow release credits the seller's wallet with the order payout
//  2. Refund of an already-released hold claws the payout back
//  3. Withdrawal processing debits the wallet, crediting back on transfer failure
//
// Every balance change is paired with an append-only transaction entry in
// the same logical operation; the entry log is the system of record for
// reconciliation. The balance can never go negative: Debit is the
// authoritative guard, and both stores enforce it again at write time.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasuwahq/settlement/internal/idgen"
	"github.com/kasuwahq/settlement/internal/retry"
	"github.com/kasuwahq/settlement/internal/syncutil"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateReference  = errors.New("reference already applied")
	ErrVersionConflict     = errors.New("wallet version conflict")
)

// EntryType classifies a transaction entry.
type EntryType string

const (
	TypePayment    EntryType = "payment"
	TypeRefund     EntryType = "refund"
	TypePayout     EntryType = "payout"
	TypeWithdrawal EntryType = "withdrawal"
	TypeCommission EntryType = "commission"
)

// EntryStatus is the recorded outcome of the operation behind an entry.
type EntryStatus string

const (
	StatusSuccess EntryStatus = "success"
	StatusPending EntryStatus = "pending"
	StatusFailed  EntryStatus = "failed"
)

// Wallet is a seller's running balance. Version increments on every
// balance write and backs the optimistic-concurrency check.
type Wallet struct {
	SellerID  string          `json:"sellerId"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Entry is one append-only transaction log row. Entries are never
// mutated after insertion.
type Entry struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	OrderID     string          `json:"orderId,omitempty"`
	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Status      EntryStatus     `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	PrevBalance decimal.Decimal `json:"prevBalance"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Reference carries the audit context for a balance change.
type Reference struct {
	OrderID string    // originating order, if any
	Key     string    // idempotency key (hold ID, withdrawal ID)
	Type    EntryType // entry classification
	Reason  string    // human-readable audit note
}

// Store persists wallets and transaction entries.
//
// ApplyDelta must atomically verify the wallet is still at
// expectedVersion, apply the signed delta to the balance, bump the
// version, and insert the entry — failing with ErrVersionConflict when a
// concurrent writer got there first and ErrInsufficientBalance when the
// delta would take the balance negative. expectedVersion 0 means "create
// the wallet"; creation of an existing wallet is a version conflict.
type Store interface {
	GetWallet(ctx context.Context, sellerID string) (*Wallet, error)
	ApplyDelta(ctx context.Context, sellerID string, expectedVersion int64, delta decimal.Decimal, entry *Entry) error
	ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error)
	HasEntry(ctx context.Context, reference string, typ EntryType) (bool, error)
	ListWallets(ctx context.Context) ([]*Wallet, error)
	EntryDeltaSum(ctx context.Context, sellerID string) (decimal.Decimal, error)
	RecordEntry(ctx context.Context, entry *Entry) error
}

const (
	casAttempts  = 4
	casBaseDelay = 20 * time.Millisecond
)

// Ledger applies balance deltas to seller wallets.
type Ledger struct {
	store Store
	locks syncutil.ShardedMutex
}

// NewLedger creates a wallet ledger backed by the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance returns the seller's wallet, or a zero wallet if none exists yet.
func (l *Ledger) Balance(ctx context.Context, sellerID string) (*Wallet, error) {
	w, err := l.store.GetWallet(ctx, sellerID)
	if errors.Is(err, ErrWalletNotFound) {
		return &Wallet{SellerID: sellerID, Balance: decimal.Zero, UpdatedAt: time.Now()}, nil
	}
	return w, err
}

// Credit adds amount to the seller's wallet, creating it on first credit.
// A reference key that was already applied returns ErrDuplicateReference
// without mutation, so retried settlement steps are safe.
func (l *Ledger) Credit(ctx context.Context, sellerID string, amount decimal.Decimal, ref Reference) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock("wallet:" + sellerID)
	defer unlock()

	return l.apply(ctx, sellerID, amount, ref, "credit")
}

// Debit removes amount from the seller's wallet. It is the authoritative
// negative-balance guard: insufficient funds fail with
// ErrInsufficientBalance and mutate nothing.
func (l *Ledger) Debit(ctx context.Context, sellerID string, amount decimal.Decimal, ref Reference) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock("wallet:" + sellerID)
	defer unlock()

	return l.apply(ctx, sellerID, amount.Neg(), ref, "debit")
}

// HasReference reports whether an entry with the reference key and type
// was ever recorded. Settlement uses this to detect a payout that landed
// in the wallet even though the hold transition was lost.
func (l *Ledger) HasReference(ctx context.Context, key string, typ EntryType) (bool, error) {
	return l.store.HasEntry(ctx, key, typ)
}

// History returns transaction entries for a user, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListEntries(ctx, userID, limit)
}

// RecordEvent appends an entry that carries no balance delta (e.g. a
// buyer refund recorded for the audit trail). Entries written this way
// have equal previous and new balances.
func (l *Ledger) RecordEvent(ctx context.Context, userID string, amount decimal.Decimal, status EntryStatus, ref Reference) (*Entry, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	entry := &Entry{
		ID:        idgen.WithPrefix("txn_"),
		UserID:    userID,
		OrderID:   ref.OrderID,
		Type:      ref.Type,
		Amount:    amount,
		Status:    status,
		Reference: ref.Key,
		Reason:    ref.Reason,
		CreatedAt: time.Now(),
	}
	if err := l.store.RecordEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}
	return entry, nil
}

func (l *Ledger) checkDuplicate(ctx context.Context, ref Reference) error {
	if ref.Key == "" {
		return nil
	}
	exists, err := l.store.HasEntry(ctx, ref.Key, ref.Type)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateReference
	}
	return nil
}

// apply performs the read-modify-write with bounded retry on version
// conflicts from concurrent writers that bypassed the shard lock (other
// engine replicas sharing the database).
func (l *Ledger) apply(ctx context.Context, sellerID string, delta decimal.Decimal, ref Reference, op string) (*Entry, error) {
	done := observeOp(op)
	defer done()

	var applied *Entry
	err := retry.Do(ctx, casAttempts, casBaseDelay, func() error {
		// Re-checked every attempt: losing a version conflict to another
		// replica may mean that replica already applied this reference.
		if err := l.checkDuplicate(ctx, ref); err != nil {
			return retry.Permanent(err)
		}

		w, err := l.store.GetWallet(ctx, sellerID)
		if errors.Is(err, ErrWalletNotFound) {
			if delta.IsNegative() {
				return retry.Permanent(ErrWalletNotFound)
			}
			w = &Wallet{SellerID: sellerID, Balance: decimal.Zero, Version: 0}
		} else if err != nil {
			return err
		}

		newBalance := w.Balance.Add(delta)
		if newBalance.IsNegative() {
			return retry.Permanent(ErrInsufficientBalance)
		}

		entry := &Entry{
			ID:          idgen.WithPrefix("txn_"),
			UserID:      sellerID,
			OrderID:     ref.OrderID,
			Type:        ref.Type,
			Amount:      delta.Abs(),
			Status:      StatusSuccess,
			Reference:   ref.Key,
			PrevBalance: w.Balance,
			NewBalance:  newBalance,
			Reason:      ref.Reason,
			CreatedAt:   time.Now(),
		}

		if err := l.store.ApplyDelta(ctx, sellerID, w.Version, delta, entry); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err // retryable
			}
			return retry.Permanent(err)
		}
		applied = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}
