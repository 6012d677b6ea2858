package gateway

import (
	"context"
	"sync"

	"github.com/kasuwahq/settlement/internal/idgen"
)

// Mock is an in-memory Gateway for development and tests. Refunds
// succeed unless a failure is armed, and repeated calls with the same
// hold ID return the original result.
type Mock struct {
	mu      sync.Mutex
	refunds map[string]*RefundResult // by hold ID
	failErr error
	Calls   []RefundRequest
}

// NewMock creates a mock gateway that accepts every refund.
func NewMock() *Mock {
	return &Mock{refunds: make(map[string]*RefundResult)}
}

// FailWith makes subsequent refunds fail with err until cleared with nil.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Mock) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.failErr != nil {
		return nil, m.failErr
	}
	if r, ok := m.refunds[req.HoldID]; ok {
		return r, nil
	}
	r := &RefundResult{ProviderRef: idgen.WithPrefix("re_")}
	m.refunds[req.HoldID] = r
	return r, nil
}
