package withdrawal

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty in-memory withdrawal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, req *Request, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrConflict
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBySeller(_ context.Context, sellerID string, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.SellerID == sellerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return sortAndLimit(out, limit), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	return sortAndLimit(out, limit), nil
}

func sortAndLimit(out []*Request, limit int) []*Request {
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
