// Package gateway talks to the payment gateway that originally captured
// the buyer's charge. The engine only ever asks it to reverse a charge:
// refunds must clear on the gateway before any local settlement state
// moves, so a rail failure leaves the hold untouched and retryable.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable means the gateway circuit is open or the call timed
	// out. The settlement step that triggered it can be retried as-is.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrRefundRejected means the gateway refused the refund outright.
	// Retrying with the same request will not help.
	ErrRefundRejected = errors.New("payment gateway rejected refund")
)

// RefundRequest asks the gateway to reverse a captured charge.
type RefundRequest struct {
	HoldID     string          // idempotency key for the rail
	OrderID    string
	PaymentRef string          // gateway's charge/payment-intent reference
	Amount     decimal.Decimal // NGN
	Reason     string
}

// RefundResult is the gateway's acknowledgement.
type RefundResult struct {
	ProviderRef string // gateway-side refund identifier
}

// Gateway reverses buyer charges.
type Gateway interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
