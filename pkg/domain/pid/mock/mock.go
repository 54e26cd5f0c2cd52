package mock

import (
	"context"
	"testing"

	"github.com/opst/orchestration/pkg/domain"
)

type IssueArgs struct {
	Kind       domain.Kind
	Attributes map[string]any
}

type TombstoneArgs struct {
	Kind domain.Kind
	PID  string
	Meta domain.TombstoneMetadata
}

type MockClient struct {
	t    *testing.T
	Impl struct {
		Issue     func(ctx context.Context, kind domain.Kind, attributes map[string]any) (string, error)
		Tombstone func(ctx context.Context, kind domain.Kind, pid string, meta domain.TombstoneMetadata) error
		Rollback  func(ctx context.Context, pid string) error
	}
	Calls struct {
		Issue     []IssueArgs
		Tombstone []TombstoneArgs
		Rollback  []string
	}
}

func New(t *testing.T) *MockClient {
	return &MockClient{t: t}
}

func (m *MockClient) Issue(ctx context.Context, kind domain.Kind, attributes map[string]any) (string, error) {
	m.t.Helper()
	m.Calls.Issue = append(m.Calls.Issue, IssueArgs{Kind: kind, Attributes: attributes})
	if m.Impl.Issue == nil {
		m.t.Fatal("Issue is not implemented")
	}
	return m.Impl.Issue(ctx, kind, attributes)
}

func (m *MockClient) Tombstone(ctx context.Context, kind domain.Kind, pid string, meta domain.TombstoneMetadata) error {
	m.t.Helper()
	m.Calls.Tombstone = append(m.Calls.Tombstone, TombstoneArgs{Kind: kind, PID: pid, Meta: meta})
	if m.Impl.Tombstone == nil {
		m.t.Fatal("Tombstone is not implemented")
	}
	return m.Impl.Tombstone(ctx, kind, pid, meta)
}

func (m *MockClient) Rollback(ctx context.Context, pid string) error {
	m.t.Helper()
	m.Calls.Rollback = append(m.Calls.Rollback, pid)
	if m.Impl.Rollback == nil {
		m.t.Fatal("Rollback is not implemented")
	}
	return m.Impl.Rollback(ctx, pid)
}
