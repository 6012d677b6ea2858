package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kasuwahq/settlement/internal/gateway"
	"github.com/kasuwahq/settlement/internal/money"
	"github.com/kasuwahq/settlement/internal/notify"
	"github.com/kasuwahq/settlement/internal/wallet"
)

type testEnv struct {
	service *Service
	store   *MemoryStore
	ledger  *wallet.Ledger
	wallets *wallet.MemoryStore
	gateway *gateway.Mock
	sender  *notify.MemorySender
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewMemoryStore()
	wallets := wallet.NewMemoryStore()
	ledger := wallet.NewLedger(wallets)
	gw := gateway.NewMock()
	sender := notify.NewMemorySender()
	emitter := notify.NewEmitter(sender, logger)

	return &testEnv{
		service: NewService(store, ledger, gw, emitter, logger),
		store:   store,
		ledger:  ledger,
		wallets: wallets,
		gateway: gw,
		sender:  sender,
	}
}

func (e *testEnv) createHold(t *testing.T, total string) *Hold {
	t.Helper()
	hold, err := e.service.CreateHold(context.Background(), CreateHoldRequest{
		OrderID:       "order-" + total,
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         total,
		PaymentMethod: PaymentFull,
		PaymentRef:    "pi_" + total,
	})
	if err != nil {
		t.Fatalf("CreateHold failed: %v", err)
	}
	return hold
}

func TestCreateHold_CarvesOutCommission(t *testing.T) {
	env := newTestEnv()

	hold := env.createHold(t, "25000")

	// 25000 - 1.5% gateway (375) - 3.5% platform (875) = 23750
	if !hold.Amount.Equal(money.MustParse("23750")) {
		t.Errorf("expected hold amount 23750, got %s", money.Format(hold.Amount))
	}
	if hold.Status != StatusHeld {
		t.Errorf("expected status held, got %s", hold.Status)
	}

	order, err := env.store.GetOrder(context.Background(), hold.OrderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if !order.CommissionAmount.Equal(money.MustParse("875")) {
		t.Errorf("expected commission 875, got %s", money.Format(order.CommissionAmount))
	}
	if order.EscrowReleased {
		t.Error("new order marked escrow_released")
	}
}

func TestCreateHold_RejectsPODForLargeOrders(t *testing.T) {
	env := newTestEnv()

	_, err := env.service.CreateHold(context.Background(), CreateHoldRequest{
		OrderID:       "order-pod",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         "35000",
		PaymentMethod: PaymentPOD,
	})
	if !errors.Is(err, ErrPODNotAllowed) {
		t.Errorf("expected ErrPODNotAllowed, got %v", err)
	}

	// Just under the cutoff is fine.
	_, err = env.service.CreateHold(context.Background(), CreateHoldRequest{
		OrderID:       "order-pod-ok",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         "34999.99",
		PaymentMethod: PaymentPOD,
	})
	if err != nil {
		t.Errorf("expected POD allowed under cutoff, got %v", err)
	}
}

func TestCreateHold_OnePerOrder(t *testing.T) {
	env := newTestEnv()
	env.createHold(t, "10000")

	_, err := env.service.CreateHold(context.Background(), CreateHoldRequest{
		OrderID:       "order-10000",
		BuyerID:       "buyer-2",
		SellerID:      "seller-2",
		Total:         "9000",
		PaymentMethod: PaymentFull,
	})
	if !errors.Is(err, ErrHoldExists) {
		t.Errorf("expected ErrHoldExists, got %v", err)
	}
}

func TestCreateHold_RejectsBadAmounts(t *testing.T) {
	env := newTestEnv()
	for _, total := range []string{"", "0", "-50", "abc"} {
		_, err := env.service.CreateHold(context.Background(), CreateHoldRequest{
			OrderID:       "order-bad",
			BuyerID:       "b",
			SellerID:      "s",
			Total:         total,
			PaymentMethod: PaymentFull,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("total %q: expected ErrInvalidAmount, got %v", total, err)
		}
	}
}

func TestCreateHold_EmitsHeldNotification(t *testing.T) {
	env := newTestEnv()

	hold := env.createHold(t, "25000")

	events := env.sender.AwaitOfType(notify.EventEscrowHeld, 1, time.Second)
	if len(events) != 1 {
		t.Fatalf("expected 1 held event, got %d", len(events))
	}
	ev := events[0]
	if ev.UserID != hold.SellerID {
		t.Errorf("expected event for %s, got %s", hold.SellerID, ev.UserID)
	}
	if ev.Data["holdId"] != hold.ID || ev.Data["orderId"] != hold.OrderID {
		t.Errorf("event data mismatch: %v", ev.Data)
	}
	if ev.Data["payout"] != "23750" {
		t.Errorf("expected payout 23750, got %v", ev.Data["payout"])
	}
}

func TestRelease_CreditsSellerAndCompletesOrder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "25000")

	released, err := env.service.Release(ctx, hold.ID, "delivery confirmed")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released.Status != StatusReleased {
		t.Errorf("expected released, got %s", released.Status)
	}
	if released.ReleasedAt == nil {
		t.Error("released_at not set")
	}

	w, err := env.ledger.Balance(ctx, "seller-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !w.Balance.Equal(money.MustParse("23750")) {
		t.Errorf("expected seller balance 23750, got %s", money.Format(w.Balance))
	}

	order, _ := env.store.GetOrder(ctx, hold.OrderID)
	if order.Status != OrderCompleted || !order.EscrowReleased {
		t.Errorf("order not completed after release: status=%s released=%v",
			order.Status, order.EscrowReleased)
	}

	if n := len(env.sender.AwaitOfType(notify.EventEscrowReleased, 1, time.Second)); n != 1 {
		t.Errorf("expected 1 release notification, got %d", n)
	}
}

func TestRelease_SecondCallIsAlreadySettled(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "10000")

	if _, err := env.service.Release(ctx, hold.ID, "ok"); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if _, err := env.service.Release(ctx, hold.ID, "retry"); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled, got %v", err)
	}

	// Balance unchanged by the duplicate.
	w, _ := env.ledger.Balance(ctx, "seller-1")
	if !w.Balance.Equal(money.MustParse("9800")) {
		t.Errorf("duplicate release changed balance: %s", money.Format(w.Balance))
	}
}

func TestRelease_UnknownHold(t *testing.T) {
	env := newTestEnv()
	if _, err := env.service.Release(context.Background(), "hold_missing", ""); !errors.Is(err, ErrHoldNotFound) {
		t.Errorf("expected ErrHoldNotFound, got %v", err)
	}
}

func TestRefund_ReversesChargeBeforeAnyMutation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "25000")

	refunded, err := env.service.Refund(ctx, hold.ID, "buyer cancelled")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", refunded.Status)
	}
	if refunded.RefundReason != "buyer cancelled" {
		t.Errorf("refund reason not recorded: %q", refunded.RefundReason)
	}

	// Gateway refunds the full charge, not the payout.
	if len(env.gateway.Calls) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(env.gateway.Calls))
	}
	if !env.gateway.Calls[0].Amount.Equal(money.MustParse("25000")) {
		t.Errorf("gateway refund amount %s, want 25000", money.Format(env.gateway.Calls[0].Amount))
	}

	// Hold never released, so the seller wallet is untouched.
	w, _ := env.ledger.Balance(ctx, "seller-1")
	if !w.Balance.IsZero() {
		t.Errorf("refund touched seller wallet: %s", money.Format(w.Balance))
	}

	order, _ := env.store.GetOrder(ctx, hold.OrderID)
	if order.Status != OrderRefunded || order.PaymentStatus != PaymentRefunded {
		t.Errorf("order not refunded: status=%s payment=%s", order.Status, order.PaymentStatus)
	}
	if !order.EscrowAmount.IsZero() {
		t.Errorf("escrow amount not zeroed: %s", money.Format(order.EscrowAmount))
	}

	// Buyer-side audit entry appended.
	entries, _ := env.ledger.History(ctx, "buyer-1", 10)
	if len(entries) != 1 || entries[0].Type != wallet.TypeRefund {
		t.Errorf("expected 1 buyer refund entry, got %v", entries)
	}
}

func TestRefund_GatewayFailureLeavesHoldRetryable(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "10000")

	env.gateway.FailWith(gateway.ErrUnavailable)
	if _, err := env.service.Refund(ctx, hold.ID, "cancelled"); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	got, _ := env.store.GetHold(ctx, hold.ID)
	if got.Status != StatusHeld {
		t.Fatalf("hold mutated on gateway failure: %s", got.Status)
	}

	// Retry succeeds once the gateway recovers.
	env.gateway.FailWith(nil)
	if _, err := env.service.Refund(ctx, hold.ID, "cancelled"); err != nil {
		t.Fatalf("retry after gateway recovery failed: %v", err)
	}
}

func TestRefund_PODSkipsGateway(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	hold, err := env.service.CreateHold(ctx, CreateHoldRequest{
		OrderID:       "order-cash",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         "15000",
		PaymentMethod: PaymentPOD,
	})
	if err != nil {
		t.Fatalf("CreateHold failed: %v", err)
	}

	if _, err := env.service.Refund(ctx, hold.ID, "returned at door"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if len(env.gateway.Calls) != 0 {
		t.Errorf("cash refund hit the gateway: %d calls", len(env.gateway.Calls))
	}
}

func TestRefund_ClawsBackStrayPayout(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "25000")

	// Simulate a half-finished release: wallet credited, hold still held.
	if _, err := env.ledger.Credit(ctx, hold.SellerID, hold.Amount, wallet.Reference{
		OrderID: hold.OrderID,
		Key:     hold.ID,
		Type:    wallet.TypePayout,
	}); err != nil {
		t.Fatalf("seed credit failed: %v", err)
	}

	if _, err := env.service.Refund(ctx, hold.ID, "dispute resolved for buyer"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	w, _ := env.ledger.Balance(ctx, hold.SellerID)
	if !w.Balance.IsZero() {
		t.Errorf("stray payout not clawed back, balance %s", money.Format(w.Balance))
	}

	// The reversal is recorded as a refund, not a commission charge.
	entries, _ := env.ledger.History(ctx, hold.SellerID, 10)
	var reversal *wallet.Entry
	for _, e := range entries {
		if e.Reference == hold.ID+":clawback" {
			reversal = e
		}
	}
	if reversal == nil {
		t.Fatal("no clawback entry recorded")
	}
	if reversal.Type != wallet.TypeRefund {
		t.Errorf("expected clawback entry type %s, got %s", wallet.TypeRefund, reversal.Type)
	}
}

func TestRefund_ClawbackSkipsWhenSellerSpentIt(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "25000")

	// Stray payout lands, then the seller withdraws most of it.
	env.ledger.Credit(ctx, hold.SellerID, hold.Amount, wallet.Reference{
		Key: hold.ID, Type: wallet.TypePayout,
	})
	env.ledger.Debit(ctx, hold.SellerID, money.MustParse("20000"), wallet.Reference{
		Key: "wd_1", Type: wallet.TypeWithdrawal,
	})

	// Refund still completes: insufficient clawback funds are a
	// reconciliation alert, never a block on the buyer's money.
	if _, err := env.service.Refund(ctx, hold.ID, "dispute"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	got, _ := env.store.GetHold(ctx, hold.ID)
	if got.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", got.Status)
	}
}

func TestReleaseThenRefund_IsAlreadySettled(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "10000")

	if _, err := env.service.Release(ctx, hold.ID, ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := env.service.Refund(ctx, hold.ID, "too late"); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestRelease_ConcurrentTriggersSettleOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hold := env.createHold(t, "25000")

	const triggers = 10
	var wg sync.WaitGroup
	errs := make(chan error, triggers)

	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.Release(ctx, hold.ID, "webhook")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadySettled):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != triggers-1 {
		t.Errorf("expected 1 winner and %d duplicates, got %d/%d", triggers-1, ok, dup)
	}

	// Credited exactly once.
	w, _ := env.ledger.Balance(ctx, "seller-1")
	if !w.Balance.Equal(money.MustParse("23750")) {
		t.Errorf("expected balance 23750, got %s", money.Format(w.Balance))
	}
}

func TestRelease_AcceptsOrderID(t *testing.T) {
	env := newTestEnv()
	hold := env.createHold(t, "10000.00")

	released, err := env.service.Release(context.Background(), hold.OrderID, "delivered")
	if err != nil {
		t.Fatalf("Release by order ID failed: %v", err)
	}
	if released.ID != hold.ID {
		t.Errorf("released hold %s, want %s", released.ID, hold.ID)
	}
	if released.Status != StatusReleased {
		t.Errorf("expected released, got %s", released.Status)
	}

	w, err := env.ledger.Balance(context.Background(), "seller-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !w.Balance.Equal(money.MustParse("9800")) {
		t.Errorf("seller balance %s, want 9800", money.Format(w.Balance))
	}
}

func TestRefund_AcceptsOrderID(t *testing.T) {
	env := newTestEnv()
	hold := env.createHold(t, "8000.00")

	refunded, err := env.service.Refund(context.Background(), hold.OrderID, "item damaged")
	if err != nil {
		t.Fatalf("Refund by order ID failed: %v", err)
	}
	if refunded.ID != hold.ID {
		t.Errorf("refunded hold %s, want %s", refunded.ID, hold.ID)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", refunded.Status)
	}
	if len(env.gateway.Calls) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(env.gateway.Calls))
	}

	// Both identifiers resolve to the same settled hold afterwards.
	byOrder, err := env.service.Get(context.Background(), hold.OrderID)
	if err != nil {
		t.Fatalf("Get by order ID failed: %v", err)
	}
	if byOrder.ID != hold.ID || byOrder.Status != StatusRefunded {
		t.Errorf("Get by order ID returned %s/%s", byOrder.ID, byOrder.Status)
	}
}
