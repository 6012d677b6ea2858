package settlement

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	holds  map[string]*Hold
}

// NewMemoryStore creates an empty in-memory settlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		holds:  make(map[string]*Hold),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return ErrOrderNotFound
	}
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateHold(_ context.Context, hold *Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holds {
		if h.OrderID == hold.OrderID {
			return ErrHoldExists
		}
	}
	cp := *hold
	s.holds[hold.ID] = &cp
	return nil
}

func (s *MemoryStore) GetHold(_ context.Context, id string) (*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[id]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) GetHoldByOrder(_ context.Context, orderID string) (*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.holds {
		if h.OrderID == orderID {
			cp := *h
			return &cp, nil
		}
	}
	return nil, ErrHoldNotFound
}

func (s *MemoryStore) TransitionHold(_ context.Context, hold *Hold, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.holds[hold.ID]
	if !ok {
		return ErrHoldNotFound
	}
	if stored.Status != from {
		return ErrAlreadySettled
	}
	cp := *hold
	s.holds[hold.ID] = &cp
	return nil
}

func (s *MemoryStore) ListHoldsBySeller(_ context.Context, sellerID string, limit int) ([]*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Hold
	for _, h := range s.holds {
		if h.SellerID == sellerID {
			cp := *h
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
