// Package settlement owns the escrow hold lifecycle.
//
// Flow:
//  1. Checkout confirms payment → hold created, commission carved out
//  2. Delivery confirmed → release: seller wallet credited, order completed
//  3. Order cancelled/disputed → refund: gateway reverses the charge, buyer repaid
//
// A hold settles exactly once: held → released or held → refunded, never
// both, never twice. Duplicate triggers (retried webhooks, double-clicked
// admin actions) surface AlreadySettled and mutate nothing.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrHoldNotFound   = errors.New("escrow hold not found")
	ErrHoldExists     = errors.New("escrow hold already exists for order")
	ErrAlreadySettled = errors.New("escrow hold already settled")
	ErrPODNotAllowed  = errors.New("pay-on-delivery not allowed for this amount")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// Status represents the state of an escrow hold.
type Status string

const (
	StatusHeld     Status = "held"     // Funds locked against the order
	StatusReleased Status = "released" // Paid out to the seller's wallet
	StatusRefunded Status = "refunded" // Charge reversed to the buyer
)

// PaymentMethod is how the buyer paid at checkout.
type PaymentMethod string

const (
	PaymentFull PaymentMethod = "full" // Full card payment up front
	PaymentHalf PaymentMethod = "half" // Half up front, half on delivery
	PaymentPOD  PaymentMethod = "pod"  // Cash on delivery
)

// OrderStatus is the marketplace order lifecycle state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
	OrderCompleted OrderStatus = "completed"
)

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

// Order is the marketplace order as the engine sees it. Orders are
// created at checkout; the engine only mutates settlement-related
// fields and never deletes.
type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyerId"`
	SellerID         string          `json:"sellerId"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	PaymentRef       string          `json:"paymentRef,omitempty"` // gateway charge reference
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	EscrowAmount     decimal.Decimal `json:"escrowAmount"`
	SellerPayout     decimal.Decimal `json:"sellerPayout"`
	EscrowReleased   bool            `json:"escrowReleased"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Hold is one escrow hold. Amount is the seller payout: commission and
// gateway fee are carved out at creation time, before funds are held.
type Hold struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"orderId"`
	BuyerID      string          `json:"buyerId"`
	SellerID     string          `json:"sellerId"`
	Amount       decimal.Decimal `json:"amount"`
	Status       Status          `json:"status"`
	ReleasedAt   *time.Time      `json:"releasedAt,omitempty"`
	RefundedAt   *time.Time      `json:"refundedAt,omitempty"`
	RefundReason string          `json:"refundReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsTerminal returns true if the hold has settled.
func (h *Hold) IsTerminal() bool {
	return h.Status == StatusReleased || h.Status == StatusRefunded
}

// Store persists orders and escrow holds.
//
// TransitionHold is the settlement compare-and-swap: it persists the
// hold's new status and timestamps only if the stored status still
// equals from, failing with ErrAlreadySettled otherwise. This is what
// guarantees exactly-one terminal transition under concurrent triggers.
type Store interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error

	CreateHold(ctx context.Context, hold *Hold) error
	GetHold(ctx context.Context, id string) (*Hold, error)
	GetHoldByOrder(ctx context.Context, orderID string) (*Hold, error)
	TransitionHold(ctx context.Context, hold *Hold, from Status) error
	ListHoldsBySeller(ctx context.Context, sellerID string, limit int) ([]*Hold, error)
}
