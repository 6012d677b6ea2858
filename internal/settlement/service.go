package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasuwahq/settlement/internal/commission"
	"github.com/kasuwahq/settlement/internal/gateway"
	"github.com/kasuwahq/settlement/internal/idgen"
	"github.com/kasuwahq/settlement/internal/metrics"
	"github.com/kasuwahq/settlement/internal/money"
	"github.com/kasuwahq/settlement/internal/notify"
	"github.com/kasuwahq/settlement/internal/traces"
	"github.com/kasuwahq/settlement/internal/wallet"
)

// WalletLedger abstracts the wallet operations settlement needs.
// Satisfied by *wallet.Ledger.
type WalletLedger interface {
	Credit(ctx context.Context, sellerID string, amount decimal.Decimal, ref wallet.Reference) (*wallet.Entry, error)
	Debit(ctx context.Context, sellerID string, amount decimal.Decimal, ref wallet.Reference) (*wallet.Entry, error)
	RecordEvent(ctx context.Context, userID string, amount decimal.Decimal, status wallet.EntryStatus, ref wallet.Reference) (*wallet.Entry, error)
	HasReference(ctx context.Context, key string, typ wallet.EntryType) (bool, error)
}

// CreateHoldRequest describes a confirmed checkout to hold funds for.
type CreateHoldRequest struct {
	OrderID       string        `json:"orderId" binding:"required"`
	BuyerID       string        `json:"buyerId" binding:"required"`
	SellerID      string        `json:"sellerId" binding:"required"`
	Total         string        `json:"total" binding:"required"`
	PaymentMethod PaymentMethod `json:"paymentMethod" binding:"required"`
	PaymentRef    string        `json:"paymentRef"`
}

// Service implements the settlement state machine.
type Service struct {
	store   Store
	ledger  WalletLedger
	gateway gateway.Gateway
	notify  *notify.Emitter
	logger  *slog.Logger
	locks   sync.Map // per-hold ID locks to serialize release/refund in-process
}

// NewService creates a settlement service.
func NewService(store Store, ledger WalletLedger, gw gateway.Gateway, emitter *notify.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  ledger,
		gateway: gw,
		notify:  emitter,
		logger:  logger,
	}
}

// holdLock returns a mutex for the given hold ID. In-process serialization
// on top of the store's compare-and-swap, so two admin clicks on the same
// hold never both reach the gateway.
func (s *Service) holdLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CreateHold records a confirmed order and opens its escrow hold.
// The commission split is computed here, once; the hold amount is the
// seller payout with gateway fee and platform commission carved out.
func (s *Service) CreateHold(ctx context.Context, req CreateHoldRequest) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.CreateHold", traces.OrderID(req.OrderID))
	defer span.End()

	total, err := money.ParsePositive(req.Total)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	breakdown, err := commission.Calculate(total)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if req.PaymentMethod == PaymentPOD && !breakdown.PODEligible {
		return nil, ErrPODNotAllowed
	}

	if existing, err := s.store.GetHoldByOrder(ctx, req.OrderID); err == nil && existing != nil {
		return nil, ErrHoldExists
	}

	now := time.Now()
	order := &Order{
		ID:               req.OrderID,
		BuyerID:          req.BuyerID,
		SellerID:         req.SellerID,
		Total:            total,
		PaymentMethod:    req.PaymentMethod,
		PaymentRef:       req.PaymentRef,
		Status:           OrderConfirmed,
		PaymentStatus:    PaymentCompleted,
		CommissionAmount: breakdown.PlatformCommission,
		EscrowAmount:     breakdown.SellerPayout,
		SellerPayout:     breakdown.SellerPayout,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.PaymentMethod == PaymentPOD {
		order.PaymentStatus = PaymentPending
	}

	hold := &Hold{
		ID:        idgen.WithPrefix("hold_"),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Amount:    breakdown.SellerPayout,
		Status:    StatusHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order record: %w", err)
	}
	if err := s.store.CreateHold(ctx, hold); err != nil {
		return nil, fmt.Errorf("failed to create escrow hold: %w", err)
	}

	metrics.HoldsCreatedTotal.Inc()
	s.logger.Info("escrow hold created",
		"hold_id", hold.ID,
		"order_id", order.ID,
		"seller_id", order.SellerID,
		"payout", money.Format(hold.Amount),
		"commission", money.Format(order.CommissionAmount))
	s.notify.EmitEscrowHeld(hold.SellerID, hold.OrderID, hold.ID, money.Format(hold.Amount))
	return hold, nil
}

// Get returns a hold by hold ID or by its order ID.
func (s *Service) Get(ctx context.Context, ref string) (*Hold, error) {
	return s.resolveHold(ctx, ref)
}

// resolveHold accepts either a hold ID or an order ID. Webhook handlers
// and the admin console usually carry the order ID; the hold ID only
// exists once the hold has been fetched.
func (s *Service) resolveHold(ctx context.Context, ref string) (*Hold, error) {
	hold, err := s.store.GetHold(ctx, ref)
	if err == nil {
		return hold, nil
	}
	if !errors.Is(err, ErrHoldNotFound) {
		return nil, err
	}
	hold, byOrderErr := s.store.GetHoldByOrder(ctx, ref)
	if byOrderErr != nil {
		return nil, ErrHoldNotFound
	}
	return hold, nil
}

// ListBySeller returns a seller's holds, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Hold, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListHoldsBySeller(ctx, sellerID, limit)
}

// Release pays the hold out to the seller's wallet and completes the order.
//
// Ordering matters: the wallet credit (idempotent by hold ID) happens
// before the status CAS, so a crash between the two leaves a credited
// wallet and a held hold — a retry detects the existing credit, skips
// it, and finishes the transition. The losing side of a concurrent
// double trigger observes AlreadySettled and mutates nothing.
func (s *Service) Release(ctx context.Context, ref, reason string) (*Hold, error) {
	resolved, err := s.resolveHold(ctx, ref)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "settlement.Release", traces.HoldID(resolved.ID))
	defer span.End()

	mu := s.holdLock(resolved.ID)
	mu.Lock()
	defer mu.Unlock()

	// Reload under the lock; the resolved copy may be stale.
	hold, err := s.store.GetHold(ctx, resolved.ID)
	if err != nil {
		return nil, err
	}
	if hold.IsTerminal() {
		metrics.DuplicateTriggersTotal.WithLabelValues("release").Inc()
		return nil, ErrAlreadySettled
	}

	order, err := s.store.GetOrder(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.Credit(ctx, hold.SellerID, hold.Amount, wallet.Reference{
		OrderID: hold.OrderID,
		Key:     hold.ID,
		Type:    wallet.TypePayout,
		Reason:  reason,
	})
	if err != nil && !errors.Is(err, wallet.ErrDuplicateReference) {
		return nil, fmt.Errorf("failed to credit seller wallet: %w", err)
	}

	now := time.Now()
	hold.Status = StatusReleased
	hold.ReleasedAt = &now
	hold.UpdatedAt = now
	if err := s.store.TransitionHold(ctx, hold, StatusHeld); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			metrics.DuplicateTriggersTotal.WithLabelValues("release").Inc()
		}
		return nil, err
	}

	order.Status = OrderCompleted
	order.PaymentStatus = PaymentCompleted
	order.EscrowReleased = true
	order.UpdatedAt = now
	if err := s.store.UpdateOrder(ctx, order); err != nil {
		// Funds moved and the hold is terminal; the order row is catch-up
		// state recovered by reconciliation, not a reason to fail the release.
		s.logger.Error("order update failed after release",
			"hold_id", hold.ID, "order_id", order.ID, "error", err)
	}

	metrics.HoldsReleasedTotal.Inc()
	s.logger.Info("escrow hold released",
		"hold_id", hold.ID,
		"order_id", hold.OrderID,
		"seller_id", hold.SellerID,
		"payout", money.Format(hold.Amount))
	s.notify.EmitEscrowReleased(hold.SellerID, hold.OrderID, hold.ID, money.Format(hold.Amount))
	return hold, nil
}

// Refund reverses the buyer's charge and closes the hold.
//
// The gateway call comes first because it is the irreversible step: if
// it fails, the hold stays held and the whole operation can be retried
// with the same idempotency key. Cash orders have no charge to reverse
// and skip the gateway entirely.
func (s *Service) Refund(ctx context.Context, ref, reason string) (*Hold, error) {
	resolved, err := s.resolveHold(ctx, ref)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "settlement.Refund", traces.HoldID(resolved.ID))
	defer span.End()

	mu := s.holdLock(resolved.ID)
	mu.Lock()
	defer mu.Unlock()

	hold, err := s.store.GetHold(ctx, resolved.ID)
	if err != nil {
		return nil, err
	}
	if hold.IsTerminal() {
		metrics.DuplicateTriggersTotal.WithLabelValues("refund").Inc()
		return nil, ErrAlreadySettled
	}

	order, err := s.store.GetOrder(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentMethod != PaymentPOD {
		_, err := s.gateway.Refund(ctx, gateway.RefundRequest{
			HoldID:     hold.ID,
			OrderID:    order.ID,
			PaymentRef: order.PaymentRef,
			Amount:     order.Total,
			Reason:     reason,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway refund failed: %w", err)
		}
	}

	// A payout entry for this hold means a previous release credited the
	// wallet but lost its status transition. Claw the payout back before
	// closing the hold as refunded.
	if err := s.clawBackPayout(ctx, hold, reason); err != nil {
		return nil, err
	}

	now := time.Now()
	hold.Status = StatusRefunded
	hold.RefundedAt = &now
	hold.RefundReason = reason
	hold.UpdatedAt = now
	if err := s.store.TransitionHold(ctx, hold, StatusHeld); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			metrics.DuplicateTriggersTotal.WithLabelValues("refund").Inc()
		}
		return nil, err
	}

	order.Status = OrderRefunded
	order.PaymentStatus = PaymentRefunded
	order.EscrowAmount = decimal.Zero
	order.UpdatedAt = now
	if err := s.store.UpdateOrder(ctx, order); err != nil {
		s.logger.Error("order update failed after refund",
			"hold_id", hold.ID, "order_id", order.ID, "error", err)
	}

	if _, err := s.ledger.RecordEvent(ctx, hold.BuyerID, order.Total, wallet.StatusSuccess, wallet.Reference{
		OrderID: hold.OrderID,
		Key:     hold.ID,
		Type:    wallet.TypeRefund,
		Reason:  reason,
	}); err != nil {
		s.logger.Error("refund entry append failed", "hold_id", hold.ID, "error", err)
	}

	metrics.HoldsRefundedTotal.Inc()
	s.logger.Info("escrow hold refunded",
		"hold_id", hold.ID,
		"order_id", hold.OrderID,
		"buyer_id", hold.BuyerID,
		"amount", money.Format(order.Total),
		"reason", reason)
	s.notify.EmitEscrowRefunded(hold.BuyerID, hold.OrderID, hold.ID, money.Format(order.Total))
	return hold, nil
}

// clawBackPayout debits a payout that escaped to the seller wallet from
// a half-finished release. Detection is by the recorded payout entry,
// never by balance arithmetic. A seller who already spent the money is
// a reconciliation case, not a reason to block the buyer's refund.
func (s *Service) clawBackPayout(ctx context.Context, hold *Hold, reason string) error {
	paidOut, err := s.ledger.HasReference(ctx, hold.ID, wallet.TypePayout)
	if err != nil {
		return fmt.Errorf("failed to check payout history: %w", err)
	}
	if !paidOut {
		return nil
	}

	_, err = s.ledger.Debit(ctx, hold.SellerID, hold.Amount, wallet.Reference{
		OrderID: hold.OrderID,
		Key:     hold.ID + ":clawback",
		Type:    wallet.TypeRefund,
		Reason:  "payout reversal: " + reason,
	})
	switch {
	case errors.Is(err, wallet.ErrDuplicateReference):
		return nil
	case errors.Is(err, wallet.ErrInsufficientBalance):
		s.logger.Error("reconciliation alert: payout clawback exceeds wallet balance",
			"hold_id", hold.ID,
			"seller_id", hold.SellerID,
			"amount", money.Format(hold.Amount))
		return nil
	case err != nil:
		return fmt.Errorf("failed to claw back payout: %w", err)
	}
	return nil
}
