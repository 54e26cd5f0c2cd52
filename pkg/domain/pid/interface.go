package pid

import (
	"context"

	"github.com/opst/orchestration/pkg/domain"
)

// Client talks to the persistent identifier registry.
//
// Errors wrap errors.ErrPidFailure (and errors.ErrPidAuthentication for rejected credentials).
type Client interface {
	// Issue mints a new PID for an object of the kind.
	//
	// attributes are recorded at the registry with the PID.
	Issue(ctx context.Context, kind domain.Kind, attributes map[string]any) (string, error)

	// Tombstone marks the PID as tombstoned at the registry.
	Tombstone(ctx context.Context, kind domain.Kind, pid string, meta domain.TombstoneMetadata) error

	// Rollback undoes the creation of a PID which has never been published.
	//
	// It is a compensation: it is attempted once, without retry.
	Rollback(ctx context.Context, pid string) error
}
