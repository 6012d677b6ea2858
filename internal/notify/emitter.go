package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/kasuwahq/settlement/internal/idgen"
)

// Emitter wraps a Sender with typed helpers for each settlement event.
// All methods are fire-and-forget: errors are logged but never returned,
// and a nil Emitter or Sender is a no-op.
type Emitter struct {
	sender Sender
	logger *slog.Logger
}

// NewEmitter creates a notification emitter.
func NewEmitter(sender Sender, logger *slog.Logger) *Emitter {
	return &Emitter{sender: sender, logger: logger}
}

func (e *Emitter) emit(userID string, eventType EventType, data map[string]any) {
	if e == nil || e.sender == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("ntf_"),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      data,
	}
	// Send async so a slow notification service never stalls settlement.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.sender.Send(ctx, event); err != nil {
			notifyEmitErrors.WithLabelValues(string(eventType)).Inc()
			e.logger.Warn("notification emit failed", "event", eventType, "user", userID, "error", err)
		}
	}()
}

// EmitEscrowHeld announces a new hold to the console stream. Buyers and
// sellers are not notified of holds opening; the event carries the
// seller so console filters work.
func (e *Emitter) EmitEscrowHeld(sellerID, orderID, holdID, payout string) {
	e.emit(sellerID, EventEscrowHeld, map[string]any{
		"orderId": orderID,
		"holdId":  holdID,
		"payout":  payout,
	})
}

// EmitEscrowReleased notifies the seller their payout landed.
func (e *Emitter) EmitEscrowReleased(sellerID, orderID, holdID, payout string) {
	e.emit(sellerID, EventEscrowReleased, map[string]any{
		"orderId": orderID,
		"holdId":  holdID,
		"payout":  payout,
	})
}

// EmitEscrowRefunded notifies the buyer their money is on its way back.
func (e *Emitter) EmitEscrowRefunded(buyerID, orderID, holdID, amount string) {
	e.emit(buyerID, EventEscrowRefunded, map[string]any{
		"orderId": orderID,
		"holdId":  holdID,
		"amount":  amount,
	})
}

// EmitWithdrawalCompleted notifies the seller the transfer went out.
func (e *Emitter) EmitWithdrawalCompleted(sellerID, withdrawalID, amount string) {
	e.emit(sellerID, EventWithdrawalComplete, map[string]any{
		"withdrawalId": withdrawalID,
		"amount":       amount,
	})
}

// EmitWithdrawalFailed notifies the seller the transfer failed and the
// funds returned to their wallet.
func (e *Emitter) EmitWithdrawalFailed(sellerID, withdrawalID, amount, reason string) {
	e.emit(sellerID, EventWithdrawalFailed, map[string]any{
		"withdrawalId": withdrawalID,
		"amount":       amount,
		"reason":       reason,
	})
}

// EmitWithdrawalOnHold notifies the seller their request is under review.
func (e *Emitter) EmitWithdrawalOnHold(sellerID, withdrawalID, reason string) {
	e.emit(sellerID, EventWithdrawalOnHold, map[string]any{
		"withdrawalId": withdrawalID,
		"reason":       reason,
	})
}

// EmitWithdrawalRejected notifies the seller their request was declined.
func (e *Emitter) EmitWithdrawalRejected(sellerID, withdrawalID, reason string) {
	e.emit(sellerID, EventWithdrawalRejected, map[string]any{
		"withdrawalId": withdrawalID,
		"reason":       reason,
	})
}

// EmitDriftDetected alerts operations that a wallet drifted from its
// transaction log.
func (e *Emitter) EmitDriftDetected(sellerID, balance, entrySum, drift string) {
	e.emit("ops", EventDriftDetected, map[string]any{
		"sellerId": sellerID,
		"balance":  balance,
		"entrySum": entrySum,
		"drift":    drift,
	})
}
