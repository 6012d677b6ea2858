// Package payout moves withdrawn funds to a seller's bank account.
//
// The withdrawal processor debits the wallet first, then calls the rail;
// a rail failure triggers a compensating credit. The withdrawal ID is
// the rail-side idempotency key, so a retried transfer after an
// ambiguous failure cannot pay a seller twice.
package payout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable means the payout rail is down or the circuit is
	// open. The withdrawal stays failed and the wallet is re-credited.
	ErrUnavailable = errors.New("payout rail unavailable")

	// ErrTransferRejected means the rail refused the transfer (bad
	// destination, compliance hold). Not retryable as-is.
	ErrTransferRejected = errors.New("payout rail rejected transfer")
)

// TransferRequest asks the rail to pay out to a seller's bank account.
type TransferRequest struct {
	WithdrawalID string          // idempotency key for the rail
	SellerID     string
	Destination  string          // rail-side account reference
	Amount       decimal.Decimal // NGN
	Narration    string
}

// TransferResult is the rail's acknowledgement.
type TransferResult struct {
	ProviderRef string
}

// Rail executes bank transfers.
type Rail interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}
