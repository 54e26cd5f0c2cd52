package db

import (
	"context"

	"github.com/opst/orchestration/pkg/domain"
)

// Interface is the durable store of resource versions, keyed by PID.
//
// Every version of a resource is kept as a full snapshot. The current version is
// the one Get and GetActive return.
type Interface interface {
	// Create stores a new resource at version 1.
	//
	// # Returns
	//
	// - error: ErrConflict when the id is already known.
	Create(ctx context.Context, r domain.Resource) error

	// GetActive returns the current version of an active resource.
	//
	// # Returns
	//
	// - error: ErrNotFound when the resource is absent or tombstoned.
	GetActive(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error)

	// Get returns the current version of the resource, tombstoned or not.
	//
	// # Returns
	//
	// - error: ErrNotFound when the resource is absent.
	Get(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error)

	// GetVersion returns a specific version of the resource.
	//
	// # Returns
	//
	// - error: ErrNotFound when the resource or the version is absent.
	GetVersion(ctx context.Context, kind domain.Kind, id string, version int) (domain.Resource, error)

	// Update stores r as the next version.
	//
	// The write is conditioned on the resource still being active at r.Version - 1.
	//
	// # Returns
	//
	// - error: ErrConflict when the resource has moved on (or been tombstoned) meanwhile.
	// ErrNotFound when the resource is absent.
	Update(ctx context.Context, r domain.Resource) error

	// RevertUpdate undoes Update(r). The content of version r.Version - 1 is
	// stored again as version r.Version + 1, which becomes current.
	//
	// r.Version stays in the history, so that a version number is never reused.
	//
	// # Returns
	//
	// - error: ErrConflict when r is no longer the current version.
	RevertUpdate(ctx context.Context, r domain.Resource) error

	// List returns current versions of active resources of the kind, oldest first.
	//
	// page starts from 1.
	List(ctx context.Context, kind domain.Kind, page int, size int) ([]domain.Resource, error)

	// RollbackCreate physically deletes every version of the resource.
	//
	// Deleting an absent resource is not an error.
	RollbackCreate(ctx context.Context, kind domain.Kind, id string) error
}
