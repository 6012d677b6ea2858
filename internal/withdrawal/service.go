package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasuwahq/settlement/internal/idgen"
	"github.com/kasuwahq/settlement/internal/metrics"
	"github.com/kasuwahq/settlement/internal/money"
	"github.com/kasuwahq/settlement/internal/notify"
	"github.com/kasuwahq/settlement/internal/payout"
	"github.com/kasuwahq/settlement/internal/ratelimit"
	"github.com/kasuwahq/settlement/internal/traces"
	"github.com/kasuwahq/settlement/internal/wallet"
)

// WalletLedger abstracts the wallet operations withdrawals need.
// Satisfied by *wallet.Ledger.
type WalletLedger interface {
	Credit(ctx context.Context, sellerID string, amount decimal.Decimal, ref wallet.Reference) (*wallet.Entry, error)
	Debit(ctx context.Context, sellerID string, amount decimal.Decimal, ref wallet.Reference) (*wallet.Entry, error)
}

// CreateRequest describes a new withdrawal request.
type CreateRequest struct {
	SellerID    string `json:"sellerId" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	BankAccount string `json:"bankAccount" binding:"required"`
}

// Outcome is the result of processing one request in a batch.
type Outcome struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Processor implements the withdrawal lifecycle.
type Processor struct {
	store  Store
	ledger WalletLedger
	rail   payout.Rail
	pacer  *ratelimit.Pacer
	notify *notify.Emitter
	logger *slog.Logger
	locks  sync.Map // per-request ID locks
}

// NewProcessor creates a withdrawal processor. interval is the minimum
// spacing between payout-rail transfers in a batch.
func NewProcessor(store Store, ledger WalletLedger, rail payout.Rail, interval time.Duration, emitter *notify.Emitter, logger *slog.Logger) *Processor {
	return &Processor{
		store:  store,
		ledger: ledger,
		rail:   rail,
		pacer:  ratelimit.NewPacer(interval),
		notify: emitter,
		logger: logger,
	}
}

func (p *Processor) requestLock(id string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create records a new pending withdrawal request. The wallet is not
// touched until the request is processed.
func (p *Processor) Create(ctx context.Context, req CreateRequest) (*Request, error) {
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	now := time.Now()
	r := &Request{
		ID:          idgen.WithPrefix("wd_"),
		SellerID:    req.SellerID,
		Amount:      amount,
		BankAccount: req.BankAccount,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	p.logger.Info("withdrawal requested",
		"withdrawal_id", r.ID,
		"seller_id", r.SellerID,
		"amount", money.Format(r.Amount))
	return r, nil
}

// Get returns a withdrawal request by ID.
func (p *Processor) Get(ctx context.Context, id string) (*Request, error) {
	return p.store.Get(ctx, id)
}

// ListBySeller returns a seller's withdrawal requests, newest first.
func (p *Processor) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.store.ListBySeller(ctx, sellerID, limit)
}

// ListPending returns requests awaiting processing.
func (p *Processor) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.store.ListByStatus(ctx, StatusPending, limit)
}

// Process executes one withdrawal: debit the wallet, transfer over the
// rail, compensate the debit if the transfer fails. The request reaches
// a terminal state either way; only load/store errors return non-nil.
func (p *Processor) Process(ctx context.Context, id string) (*Request, error) {
	ctx, span := traces.StartSpan(ctx, "withdrawal.Process", traces.WithdrawalID(id))
	defer span.End()

	mu := p.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending && req.Status != StatusOnHold {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidState, req.Status)
	}
	from := req.Status

	_, err = p.ledger.Debit(ctx, req.SellerID, req.Amount, wallet.Reference{
		Key:    req.ID,
		Type:   wallet.TypeWithdrawal,
		Reason: "withdrawal to " + req.BankAccount,
	})
	if err != nil && !errors.Is(err, wallet.ErrDuplicateReference) {
		if errors.Is(err, wallet.ErrInsufficientBalance) || errors.Is(err, wallet.ErrWalletNotFound) {
			return p.fail(ctx, req, from, "insufficient balance")
		}
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	result, err := p.rail.Transfer(ctx, payout.TransferRequest{
		WithdrawalID: req.ID,
		SellerID:     req.SellerID,
		Destination:  req.BankAccount,
		Amount:       req.Amount,
		Narration:    "wallet withdrawal " + req.ID,
	})
	if err != nil {
		// The debit went through but the money never left: put it back.
		if _, creditErr := p.ledger.Credit(ctx, req.SellerID, req.Amount, wallet.Reference{
			Key:    req.ID + ":reversal",
			Type:   wallet.TypeRefund,
			Reason: "withdrawal transfer failed",
		}); creditErr != nil && !errors.Is(creditErr, wallet.ErrDuplicateReference) {
			// Debited but not compensated: surface loudly for reconciliation.
			p.logger.Error("reconciliation alert: compensating credit failed",
				"withdrawal_id", req.ID,
				"seller_id", req.SellerID,
				"amount", money.Format(req.Amount),
				"error", creditErr)
		}
		return p.fail(ctx, req, from, fmt.Sprintf("transfer failed: %v", err))
	}

	now := time.Now()
	req.Status = StatusCompleted
	req.TransferCode = result.ProviderRef
	req.ProcessedAt = &now
	req.UpdatedAt = now
	if err := p.store.Transition(ctx, req, from); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
	p.logger.Info("withdrawal completed",
		"withdrawal_id", req.ID,
		"seller_id", req.SellerID,
		"amount", money.Format(req.Amount),
		"transfer_code", req.TransferCode)
	p.notify.EmitWithdrawalCompleted(req.SellerID, req.ID, money.Format(req.Amount))
	return req, nil
}

// ProcessAll runs a batch sequentially with a fixed inter-request delay
// to stay inside the payout rail's rate limits. One request failing
// never aborts the rest; every outcome is reported.
func (p *Processor) ProcessAll(ctx context.Context, ids []string) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if err := p.pacer.Wait(ctx); err != nil {
			return outcomes, err
		}

		req, err := p.Process(ctx, id)
		if err != nil {
			outcomes = append(outcomes, Outcome{ID: id, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{ID: id, Status: req.Status, Error: req.Reason})
	}
	return outcomes, nil
}

// PlaceOnHold pauses a pending request for human review.
func (p *Processor) PlaceOnHold(ctx context.Context, id, reason string) (*Request, error) {
	return p.move(ctx, id, StatusPending, StatusOnHold, reason)
}

// Resume returns an on-hold request to the pending queue.
func (p *Processor) Resume(ctx context.Context, id string) (*Request, error) {
	return p.move(ctx, id, StatusOnHold, StatusPending, "")
}

// Reject declines a pending or on-hold request. No money has moved at
// this point, so rejection is purely a status change.
func (p *Processor) Reject(ctx context.Context, id, reason string) (*Request, error) {
	mu := p.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending && req.Status != StatusOnHold {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidState, req.Status)
	}
	from := req.Status

	now := time.Now()
	req.Status = StatusRejected
	req.Reason = reason
	req.ProcessedAt = &now
	req.UpdatedAt = now
	if err := p.store.Transition(ctx, req, from); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
	p.logger.Info("withdrawal rejected", "withdrawal_id", req.ID, "reason", reason)
	p.notify.EmitWithdrawalRejected(req.SellerID, req.ID, reason)
	return req, nil
}

func (p *Processor) move(ctx context.Context, id string, from, to Status, reason string) (*Request, error) {
	mu := p.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != from {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidState, req.Status)
	}

	req.Status = to
	req.Reason = reason
	req.UpdatedAt = time.Now()
	if err := p.store.Transition(ctx, req, from); err != nil {
		return nil, err
	}

	if to == StatusOnHold {
		p.notify.EmitWithdrawalOnHold(req.SellerID, req.ID, reason)
	}
	p.logger.Info("withdrawal moved",
		"withdrawal_id", req.ID, "from", from, "to", to)
	return req, nil
}

// fail marks the request failed with the given reason. Caller must hold
// the request lock.
func (p *Processor) fail(ctx context.Context, req *Request, from Status, reason string) (*Request, error) {
	now := time.Now()
	req.Status = StatusFailed
	req.Reason = reason
	req.ProcessedAt = &now
	req.UpdatedAt = now
	if err := p.store.Transition(ctx, req, from); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	p.logger.Warn("withdrawal failed",
		"withdrawal_id", req.ID,
		"seller_id", req.SellerID,
		"reason", reason)
	p.notify.EmitWithdrawalFailed(req.SellerID, req.ID, money.Format(req.Amount), reason)
	return req, nil
}
