package payout

import (
	"context"
	"sync"

	"github.com/kasuwahq/settlement/internal/idgen"
)

// Mock is an in-memory Rail for development and tests. Transfers
// succeed unless a failure is armed; repeated calls with the same
// withdrawal ID return the original result.
type Mock struct {
	mu        sync.Mutex
	transfers map[string]*TransferResult // by withdrawal ID
	failErr   error
	failLeft  int // number of calls the armed failure applies to; <0 = until cleared
	Calls     []TransferRequest
}

// NewMock creates a mock rail that accepts every transfer.
func NewMock() *Mock {
	return &Mock{transfers: make(map[string]*TransferResult)}
}

// FailWith makes all subsequent transfers fail with err until cleared with nil.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failLeft = -1
}

// FailNextWith makes only the next n transfers fail with err.
func (m *Mock) FailNextWith(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failLeft = n
}

func (m *Mock) Transfer(_ context.Context, req TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.failErr != nil && m.failLeft != 0 {
		if m.failLeft > 0 {
			m.failLeft--
		}
		return nil, m.failErr
	}
	if tr, ok := m.transfers[req.WithdrawalID]; ok {
		return tr, nil
	}
	tr := &TransferResult{ProviderRef: idgen.WithPrefix("tr_")}
	m.transfers[req.WithdrawalID] = tr
	return tr, nil
}
