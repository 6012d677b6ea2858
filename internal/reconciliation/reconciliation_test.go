package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kasuwahq/settlement/internal/money"
	"github.com/kasuwahq/settlement/internal/notify"
	"github.com/kasuwahq/settlement/internal/wallet"
)

func newTestService(t *testing.T, store *wallet.MemoryStore, sender *notify.MemorySender) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, money.MustParse("1.00"), notify.NewEmitter(sender, logger), logger)
}

func TestRun_CleanWalletsReportNoDrift(t *testing.T) {
	store := wallet.NewMemoryStore()
	ledger := wallet.NewLedger(store)
	ctx := context.Background()

	ledger.Credit(ctx, "seller-1", money.MustParse("5000"), wallet.Reference{Key: "c1", Type: wallet.TypePayout})
	ledger.Credit(ctx, "seller-2", money.MustParse("300"), wallet.Reference{Key: "c2", Type: wallet.TypePayout})
	ledger.Debit(ctx, "seller-1", money.MustParse("1000"), wallet.Reference{Key: "d1", Type: wallet.TypeWithdrawal})

	sender := notify.NewMemorySender()
	report, err := newTestService(t, store, sender).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.CheckedWallets != 2 {
		t.Errorf("expected 2 wallets checked, got %d", report.CheckedWallets)
	}
	if len(report.Drifts) != 0 {
		t.Errorf("expected no drift, got %v", report.Drifts)
	}
	if len(sender.Events()) != 0 {
		t.Errorf("clean sweep sent notifications: %d", len(sender.Events()))
	}
}

func TestRun_DetectsDriftAndAlertsAboveThreshold(t *testing.T) {
	store := wallet.NewMemoryStore()
	ledger := wallet.NewLedger(store)
	ctx := context.Background()

	ledger.Credit(ctx, "seller-1", money.MustParse("5000"), wallet.Reference{Key: "c1", Type: wallet.TypePayout})

	// Out-of-band mutation: balance moves with no paired entry.
	if err := store.ApplyDelta(ctx, "seller-1", 1, money.MustParse("250"), &wallet.Entry{
		ID:          "txn_ghost",
		UserID:      "someone-else", // entry misattributed, so seller-1's log is short
		Type:        wallet.TypePayout,
		Amount:      money.MustParse("250"),
		Status:      wallet.StatusSuccess,
		PrevBalance: money.MustParse("5000"),
		NewBalance:  money.MustParse("5250"),
	}); err != nil {
		t.Fatalf("seed drift failed: %v", err)
	}

	sender := notify.NewMemorySender()
	report, err := newTestService(t, store, sender).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Drifts) != 1 {
		t.Fatalf("expected 1 drift, got %d", len(report.Drifts))
	}

	d := report.Drifts[0]
	if d.SellerID != "seller-1" {
		t.Errorf("wrong wallet flagged: %s", d.SellerID)
	}
	if !d.Drift.Equal(money.MustParse("250")) {
		t.Errorf("expected drift 250, got %s", money.Format(d.Drift))
	}

	if n := len(sender.AwaitOfType(notify.EventDriftDetected, 1, time.Second)); n != 1 {
		t.Errorf("expected 1 drift alert, got %d", n)
	}
}

func TestRun_SmallDriftReportedButNotAlerted(t *testing.T) {
	store := wallet.NewMemoryStore()
	ledger := wallet.NewLedger(store)
	ctx := context.Background()

	ledger.Credit(ctx, "seller-1", money.MustParse("100"), wallet.Reference{Key: "c1", Type: wallet.TypePayout})
	// Sub-threshold drift of 0.50.
	store.ApplyDelta(ctx, "seller-1", 1, money.MustParse("0.50"), &wallet.Entry{
		ID: "txn_ghost", UserID: "elsewhere",
		Type: wallet.TypePayout, Status: wallet.StatusSuccess,
		Amount:      money.MustParse("0.50"),
		PrevBalance: money.MustParse("100"),
		NewBalance:  money.MustParse("100.50"),
	})

	sender := notify.NewMemorySender()
	report, err := newTestService(t, store, sender).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Drifts) != 1 {
		t.Fatalf("expected drift reported, got %d", len(report.Drifts))
	}
	if n := len(sender.OfType(notify.EventDriftDetected)); n != 0 {
		t.Errorf("sub-threshold drift alerted: %d notifications", n)
	}
}
