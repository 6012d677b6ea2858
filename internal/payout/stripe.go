package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/kasuwahq/settlement/internal/circuitbreaker"
	"github.com/kasuwahq/settlement/internal/metrics"
	"github.com/kasuwahq/settlement/internal/money"
)

const breakerKey = "payout"

// StripeRail pays sellers through Stripe connected-account transfers.
// Same protections as the gateway side: circuit breaker, hard timeout,
// withdrawal ID as the Stripe idempotency key.
type StripeRail struct {
	sc      *client.API
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewStripeRail creates a Stripe-backed payout rail.
func NewStripeRail(apiKey string, breaker *circuitbreaker.Breaker, timeout time.Duration, logger *slog.Logger) *StripeRail {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeRail{
		sc:      sc,
		breaker: breaker,
		timeout: timeout,
		logger:  logger,
	}
}

func (r *StripeRail) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if !r.breaker.Allow(breakerKey) {
		metrics.RailRequestsTotal.WithLabelValues(breakerKey, "rejected").Inc()
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	params := &stripe.TransferParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"withdrawal_id": req.WithdrawalID,
				"seller_id":     req.SellerID,
			},
		},
		Amount:      stripe.Int64(money.Kobo(req.Amount)),
		Currency:    stripe.String(string(stripe.CurrencyNGN)),
		Destination: stripe.String(req.Destination),
		Description: stripe.String(req.Narration),
	}
	params.SetIdempotencyKey(req.WithdrawalID)

	tr, err := r.sc.Transfers.New(params)
	if err != nil {
		return nil, r.fail(req, err)
	}

	r.breaker.RecordSuccess(breakerKey)
	metrics.RailRequestsTotal.WithLabelValues(breakerKey, "success").Inc()
	r.logger.Info("payout transfer accepted",
		"withdrawal_id", req.WithdrawalID,
		"seller_id", req.SellerID,
		"provider_ref", tr.ID)
	return &TransferResult{ProviderRef: tr.ID}, nil
}

func (r *StripeRail) fail(req TransferRequest, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			metrics.RailRequestsTotal.WithLabelValues(breakerKey, "rejected").Inc()
			r.logger.Warn("payout transfer rejected",
				"withdrawal_id", req.WithdrawalID,
				"seller_id", req.SellerID,
				"stripe_code", string(stripeErr.Code))
			return fmt.Errorf("%w: %s", ErrTransferRejected, stripeErr.Code)
		}
	}

	r.breaker.RecordFailure(breakerKey)
	metrics.RailRequestsTotal.WithLabelValues(breakerKey, "error").Inc()
	r.logger.Error("payout transfer failed",
		"withdrawal_id", req.WithdrawalID,
		"seller_id", req.SellerID,
		"error", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
