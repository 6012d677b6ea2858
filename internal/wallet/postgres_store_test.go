//go:build integration

package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kasuwahq/settlement/internal/testutil"
)

func testEntry(sellerID, reference string, typ EntryType, amount, prev, next decimal.Decimal) *Entry {
	return &Entry{
		ID:          "txn_" + reference,
		UserID:      sellerID,
		Type:        typ,
		Amount:      amount,
		Status:      StatusSuccess,
		Reference:   reference,
		PrevBalance: prev,
		NewBalance:  next,
	}
}

func TestPostgresWallet_CreateOnFirstCredit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	amount := decimal.RequireFromString("500.00")
	err := store.ApplyDelta(ctx, "seller-1", 0, amount,
		testEntry("seller-1", "ref-1", TypePayment, amount, decimal.Zero, amount))
	if err != nil {
		t.Fatalf("ApplyDelta create failed: %v", err)
	}

	w, err := store.GetWallet(ctx, "seller-1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !w.Balance.Equal(amount) {
		t.Errorf("Balance: got %s, want %s", w.Balance, amount)
	}
	if w.Version != 1 {
		t.Errorf("Version: got %d, want 1", w.Version)
	}
}

func TestPostgresWallet_VersionCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	amount := decimal.RequireFromString("100.00")
	if err := store.ApplyDelta(ctx, "seller-cas", 0, amount,
		testEntry("seller-cas", "cas-1", TypePayment, amount, decimal.Zero, amount)); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	// Creating again must lose the CAS.
	err := store.ApplyDelta(ctx, "seller-cas", 0, amount,
		testEntry("seller-cas", "cas-2", TypePayment, amount, decimal.Zero, amount))
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("duplicate create: got %v, want ErrVersionConflict", err)
	}

	// Stale version must lose the CAS.
	err = store.ApplyDelta(ctx, "seller-cas", 99, amount,
		testEntry("seller-cas", "cas-3", TypePayment, amount, amount, amount.Add(amount)))
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale version: got %v, want ErrVersionConflict", err)
	}

	// The losing attempts must not have recorded entries.
	entries, err := store.ListEntries(ctx, "seller-cas", 10)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries: got %d, want 1", len(entries))
	}
}

func TestPostgresWallet_OverdraftBlockedByCheck(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	amount := decimal.RequireFromString("50.00")
	if err := store.ApplyDelta(ctx, "seller-od", 0, amount,
		testEntry("seller-od", "od-1", TypePayment, amount, decimal.Zero, amount)); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	over := decimal.RequireFromString("-80.00")
	err := store.ApplyDelta(ctx, "seller-od", 1, over,
		testEntry("seller-od", "od-2", TypeWithdrawal, over.Abs(), amount, amount.Add(over)))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraft: got %v, want ErrInsufficientBalance", err)
	}

	w, err := store.GetWallet(ctx, "seller-od")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !w.Balance.Equal(amount) {
		t.Errorf("Balance after blocked overdraft: got %s, want %s", w.Balance, amount)
	}
}

func TestPostgresWallet_HasEntryAndDeltaSum(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	credit := decimal.RequireFromString("300.00")
	debit := decimal.RequireFromString("-120.00")
	if err := store.ApplyDelta(ctx, "seller-sum", 0, credit,
		testEntry("seller-sum", "sum-1", TypePayout, credit, decimal.Zero, credit)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.ApplyDelta(ctx, "seller-sum", 1, debit,
		testEntry("seller-sum", "sum-2", TypeWithdrawal, debit.Abs(), credit, credit.Add(debit))); err != nil {
		t.Fatalf("debit: %v", err)
	}

	ok, err := store.HasEntry(ctx, "sum-1", TypePayout)
	if err != nil || !ok {
		t.Errorf("HasEntry(sum-1, payout): got (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = store.HasEntry(ctx, "sum-1", TypeRefund)
	if err != nil || ok {
		t.Errorf("HasEntry(sum-1, refund): got (%v, %v), want (false, nil)", ok, err)
	}

	sum, err := store.EntryDeltaSum(ctx, "seller-sum")
	if err != nil {
		t.Fatalf("EntryDeltaSum failed: %v", err)
	}
	want := credit.Add(debit)
	if !sum.Equal(want) {
		t.Errorf("EntryDeltaSum: got %s, want %s", sum, want)
	}

	w, err := store.GetWallet(ctx, "seller-sum")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !w.Balance.Equal(sum) {
		t.Errorf("balance %s != entry delta sum %s", w.Balance, sum)
	}
}

func TestPostgresWallet_GetWalletNotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	_, err := store.GetWallet(context.Background(), "no-such-seller")
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("got %v, want ErrWalletNotFound", err)
	}
}

func TestPostgresWallet_ReferenceUniqueAcrossWriters(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	amount := decimal.RequireFromString("5000.00")
	if err := store.ApplyDelta(ctx, "seller-uq", 0, amount,
		testEntry("seller-uq", "hold_uq1", TypePayout, amount, decimal.Zero, amount)); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// A second writer that read the fresh version but carries an
	// already-applied reference must be stopped by the unique index.
	err := store.ApplyDelta(ctx, "seller-uq", 1, amount,
		testEntry("seller-uq", "hold_uq1", TypePayout, amount, amount, amount.Add(amount)))
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("duplicate reference: got %v, want ErrDuplicateReference", err)
	}

	w, err := store.GetWallet(ctx, "seller-uq")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !w.Balance.Equal(amount) {
		t.Errorf("balance %s, want %s applied exactly once", w.Balance, amount)
	}

	// Audit-only entries go through the same guard.
	if err := store.RecordEntry(ctx, testEntry("buyer-uq", "hold_uq1", TypePayout,
		amount, decimal.Zero, decimal.Zero)); !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("RecordEntry duplicate: got %v, want ErrDuplicateReference", err)
	}
}
