// Package withdrawal drains seller wallet balances to external bank
// accounts.
//
// Flow:
//  1. Seller requests a withdrawal → request created as pending
//  2. Ops may pause it (on_hold) for review, resume it, or reject it
//  3. Processing debits the wallet, then calls the payout rail
//  4. Rail failure credits the wallet back and marks the request failed
//
// State machine: pending ⇄ on_hold → {completed | failed | rejected}.
// Terminal states never transition again.
package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("withdrawal request not found")
	ErrInvalidState  = errors.New("withdrawal request not in a processable state")
	ErrConflict      = errors.New("withdrawal request changed concurrently")
	ErrInvalidAmount = errors.New("invalid withdrawal amount")
)

// Status represents the state of a withdrawal request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOnHold    Status = "on_hold"   // paused for human review
	StatusCompleted Status = "completed" // transfer confirmed by the rail
	StatusFailed    Status = "failed"    // debit or transfer failed, wallet made whole
	StatusRejected  Status = "rejected"  // declined by ops, no money moved
)

// IsTerminal returns true for states that never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Request is one seller withdrawal request.
type Request struct {
	ID           string          `json:"id"`
	SellerID     string          `json:"sellerId"`
	Amount       decimal.Decimal `json:"amount"`
	BankAccount  string          `json:"bankAccount"` // rail-side destination reference
	Status       Status          `json:"status"`
	TransferCode string          `json:"transferCode,omitempty"` // provider reference on success
	Reason       string          `json:"reason,omitempty"`       // failure/hold/rejection reason
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Store persists withdrawal requests.
//
// Transition persists the request's new state only if the stored status
// still equals from, failing with ErrConflict otherwise. Terminal
// outcomes go through it so a request completes or fails exactly once.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Transition(ctx context.Context, req *Request, from Status) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Request, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Request, error)
}
