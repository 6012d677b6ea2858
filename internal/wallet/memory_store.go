package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
	}
}

func (s *MemoryStore) GetWallet(_ context.Context, sellerID string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[sellerID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ApplyDelta(_ context.Context, sellerID string, expectedVersion int64, delta decimal.Decimal, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same guarantee the unique index gives the postgres store: a
	// reference is applied at most once, checked atomically with the write.
	if s.hasEntryLocked(entry.Reference, entry.Type) {
		return ErrDuplicateReference
	}

	w, ok := s.wallets[sellerID]
	if !ok {
		if expectedVersion != 0 {
			return ErrVersionConflict
		}
		w = &Wallet{SellerID: sellerID, Balance: decimal.Zero}
		s.wallets[sellerID] = w
	} else if w.Version != expectedVersion {
		return ErrVersionConflict
	}

	newBalance := w.Balance.Add(delta)
	if newBalance.IsNegative() {
		return ErrInsufficientBalance
	}

	w.Balance = newBalance
	w.Version++
	w.UpdatedAt = time.Now()

	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) ListEntries(_ context.Context, userID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) HasEntry(_ context.Context, reference string, typ EntryType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasEntryLocked(reference, typ), nil
}

func (s *MemoryStore) hasEntryLocked(reference string, typ EntryType) bool {
	if reference == "" {
		return false
	}
	for _, e := range s.entries {
		if e.Reference == reference && e.Type == typ {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListWallets(_ context.Context) ([]*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out, nil
}

// EntryDeltaSum sums the balance deltas recorded against the seller's
// wallet. Audit-only entries carry a zero delta and do not contribute.
func (s *MemoryStore) EntryDeltaSum(_ context.Context, sellerID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range s.entries {
		if e.UserID == sellerID {
			sum = sum.Add(e.NewBalance.Sub(e.PrevBalance))
		}
	}
	return sum, nil
}

func (s *MemoryStore) RecordEntry(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasEntryLocked(entry.Reference, entry.Type) {
		return ErrDuplicateReference
	}
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}
