package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/opst/orchestration/pkg/domain/deployment"
)

type MockManager struct {
	t  *testing.T
	mu sync.Mutex

	// Impl overrides the behaviour per method. A nil Impl succeeds.
	Impl struct {
		Apply   func(ctx context.Context, d *deployment.Descriptor) error
		Replace func(ctx context.Context, d *deployment.Descriptor) error
		Remove  func(ctx context.Context, d *deployment.Descriptor) error
	}

	Calls struct {
		Apply   []*deployment.Descriptor
		Replace []*deployment.Descriptor
		Remove  []*deployment.Descriptor
	}
}

var _ deployment.Manager = &MockManager{}

func New(t *testing.T) *MockManager {
	return &MockManager{t: t}
}

// Total counts every call made so far.
func (m *MockManager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls.Apply) + len(m.Calls.Replace) + len(m.Calls.Remove)
}

func (m *MockManager) Apply(ctx context.Context, d *deployment.Descriptor) error {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.Apply = append(m.Calls.Apply, d)
	m.mu.Unlock()
	if m.Impl.Apply == nil {
		return nil
	}
	return m.Impl.Apply(ctx, d)
}

func (m *MockManager) Replace(ctx context.Context, d *deployment.Descriptor) error {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.Replace = append(m.Calls.Replace, d)
	m.mu.Unlock()
	if m.Impl.Replace == nil {
		return nil
	}
	return m.Impl.Replace(ctx, d)
}

func (m *MockManager) Remove(ctx context.Context, d *deployment.Descriptor) error {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.Remove = append(m.Calls.Remove, d)
	m.mu.Unlock()
	if m.Impl.Remove == nil {
		return nil
	}
	return m.Impl.Remove(ctx, d)
}
