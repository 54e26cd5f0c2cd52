package deployment

import (
	"context"

	"github.com/opst/orchestration/pkg/domain"
	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Descriptor is the set of platform objects one resource needs.
//
// It is rendered from a resource snapshot every time it is needed, and never stored.
// A nil field means the resource has no such object.
type Descriptor struct {
	// ShortID of the resource the objects belong to.
	ShortID string

	// Deployment keeps a long-running service alive.
	Deployment *kubeapps.Deployment

	// ScaledObject is a KEDA autoscaling policy for Deployment.
	ScaledObject *unstructured.Unstructured

	// CronJob runs a recurring job.
	CronJob *kubebatch.CronJob

	// Job runs once. It is created but never replaced.
	Job *kubebatch.Job
}

// Empty reports whether d has no platform objects.
func (d *Descriptor) Empty() bool {
	return d == nil || (d.Deployment == nil && d.ScaledObject == nil && d.CronJob == nil && d.Job == nil)
}

// Manager mutates the container platform.
//
// Objects are identified by name, so the same descriptor always addresses the same objects.
// Every method returns an error which is ErrPlatformFailure on failure.
type Manager interface {
	// Apply creates the objects of d.
	//
	// An object which already exists is updated to d.
	// On failure, some objects may have been created. Remove cleans them up.
	Apply(ctx context.Context, d *Descriptor) error

	// Replace updates the objects of d in place, creating ones which are absent.
	//
	// Replace never deletes an object before creating its successor.
	Replace(ctx context.Context, d *Descriptor) error

	// Remove deletes the objects of d. Absent objects are ignored.
	Remove(ctx context.Context, d *Descriptor) error
}

// Renderer turns resource snapshots into platform objects.
type Renderer interface {
	// Descriptor renders the objects r needs for as long as it is active.
	Descriptor(r domain.Resource) (*Descriptor, error)

	// Trigger renders a one-shot job which runs r right away.
	Trigger(r domain.Resource) (*kubebatch.Job, error)
}
