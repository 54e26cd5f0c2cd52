package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/opst/orchestration/pkg/domain/provenance"
)

type MockPublisher struct {
	t  *testing.T
	mu sync.Mutex

	// Impl overrides Publish. A nil Impl succeeds.
	Impl struct {
		Publish func(ctx context.Context, e provenance.Event) error
	}

	// Published lists events which Publish accepted.
	Published []provenance.Event

	Calls struct {
		Publish []provenance.Event
	}
}

var _ provenance.Publisher = &MockPublisher{}

func New(t *testing.T) *MockPublisher {
	return &MockPublisher{t: t}
}

func (m *MockPublisher) Publish(ctx context.Context, e provenance.Event) error {
	m.t.Helper()
	m.mu.Lock()
	m.Calls.Publish = append(m.Calls.Publish, e)
	m.mu.Unlock()

	if m.Impl.Publish != nil {
		if err := m.Impl.Publish(ctx, e); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, e)
	return nil
}
