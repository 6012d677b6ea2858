// Package reconciliation cross-checks wallet balances against the
// append-only transaction log.
//
// Every balance change writes a paired entry, so for a healthy wallet
// the sum of recorded entry deltas equals the stored balance exactly.
// Any difference is drift: evidence of a partial failure or an
// out-of-band mutation, surfaced for manual review.
package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasuwahq/settlement/internal/metrics"
	"github.com/kasuwahq/settlement/internal/money"
	"github.com/kasuwahq/settlement/internal/notify"
	"github.com/kasuwahq/settlement/internal/traces"
	"github.com/kasuwahq/settlement/internal/wallet"
)

// LedgerReader is the read-only wallet access reconciliation needs.
// Satisfied by both wallet stores.
type LedgerReader interface {
	ListWallets(ctx context.Context) ([]*wallet.Wallet, error)
	EntryDeltaSum(ctx context.Context, sellerID string) (decimal.Decimal, error)
}

// Drift is one wallet whose balance disagrees with its entry log.
type Drift struct {
	SellerID string          `json:"sellerId"`
	Balance  decimal.Decimal `json:"balance"`
	EntrySum decimal.Decimal `json:"entrySum"`
	Drift    decimal.Decimal `json:"drift"` // balance - entrySum
}

// Report summarizes one reconciliation sweep.
type Report struct {
	CheckedWallets int       `json:"checkedWallets"`
	Drifts         []Drift   `json:"drifts"`
	RanAt          time.Time `json:"ranAt"`
}

// Service runs reconciliation sweeps.
type Service struct {
	reader    LedgerReader
	threshold decimal.Decimal // absolute drift above which ops gets paged
	notify    *notify.Emitter
	logger    *slog.Logger
}

// NewService creates a reconciliation service. threshold is the NGN
// amount of absolute drift that triggers an alert notification; drift
// below it is still reported and counted.
func NewService(reader LedgerReader, threshold decimal.Decimal, emitter *notify.Emitter, logger *slog.Logger) *Service {
	return &Service{
		reader:    reader,
		threshold: threshold,
		notify:    emitter,
		logger:    logger,
	}
}

// Run sweeps every wallet and reports drift. Read-only: reconciliation
// never corrects balances itself.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	ctx, span := traces.StartSpan(ctx, "reconciliation.Run")
	defer span.End()

	wallets, err := s.reader.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		CheckedWallets: len(wallets),
		Drifts:         []Drift{},
		RanAt:          time.Now(),
	}

	for _, w := range wallets {
		sum, err := s.reader.EntryDeltaSum(ctx, w.SellerID)
		if err != nil {
			return nil, err
		}
		if sum.Equal(w.Balance) {
			continue
		}

		drift := Drift{
			SellerID: w.SellerID,
			Balance:  w.Balance,
			EntrySum: sum,
			Drift:    w.Balance.Sub(sum),
		}
		report.Drifts = append(report.Drifts, drift)

		s.logger.Warn("wallet drift detected",
			"seller_id", drift.SellerID,
			"balance", money.Format(drift.Balance),
			"entry_sum", money.Format(drift.EntrySum),
			"drift", money.Format(drift.Drift))

		if drift.Drift.Abs().GreaterThanOrEqual(s.threshold) {
			s.notify.EmitDriftDetected(drift.SellerID,
				money.Format(drift.Balance),
				money.Format(drift.EntrySum),
				money.Format(drift.Drift))
		}
	}

	metrics.ReconciliationDriftWallets.Set(float64(len(report.Drifts)))
	s.logger.Info("reconciliation sweep complete",
		"checked", report.CheckedWallets,
		"drift_wallets", len(report.Drifts))
	return report, nil
}
