package gateway

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

const breakerKey = "gateway"

// StripeGateway refunds charges through the Stripe API. Calls run under
// a per-rail circuit breaker and a hard timeout; the hold ID doubles as
// the Stripe idempotency key so a retried refund never double-reverses.
type StripeGateway struct {
	sc      *client.API
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewStripeGateway creates a Stripe-backed gateway client.
func NewStripeGateway(apiKey string, breaker *circuitbreaker.Breaker, timeout time.Duration, logger *slog.Logger) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{
		sc:      sc,
		breaker: breaker,
		timeout: timeout,
		logger:  logger,
	}
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if !g.breaker.Allow(breakerKey) {
		metrics.RailRequestsTotal.WithLabelValues(breakerKey, "rejected").Inc()
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.RefundParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"order_id": req.OrderID,
				"hold_id":  req.HoldID,
			},
		},
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(money.Kobo(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.SetIdempotencyKey(req.HoldID)

	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, g.fail(req, err)
	}

	g.breaker.RecordSuccess(breakerKey)
	metrics.RailRequestsTotal.WithLabelValues(breakerKey, "success").Inc()
	g.logger.Info("gateway refund accepted",
		"order_id", req.OrderID,
		"hold_id", req.HoldID,
		"provider_ref", r.ID)
	return &RefundResult{ProviderRef: r.ID}, nil
}

// fail classifies the Stripe error. Card/request-level rejections map to
// ErrRefundRejected and do not count against the breaker; transport and
// server errors do.
func (g *StripeGateway) fail(req RefundRequest, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			metrics.RailRequestsTotal.WithLabelValues(breakerKey, "rejected").Inc()
			g.logger.Warn("gateway refund rejected",
				"order_id", req.OrderID,
				"hold_id", req.HoldID,
				"stripe_code", string(stripeErr.Code))
			return fmt.Errorf("%w: %s", ErrRefundRejected, stripeErr.Code)
		}
	}

	g.breaker.RecordFailure(breakerKey)
	metrics.RailRequestsTotal.WithLabelValues(breakerKey, "error").Inc()
	g.logger.Error("gateway refund failed",
		"order_id", req.OrderID,
		"hold_id", req.HoldID,
		"error", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
