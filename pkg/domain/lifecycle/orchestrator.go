// Package lifecycle creates, updates and tombstones resources whose state is
// spread across the PID registry, the resource store, the container platform
// and the event bus.
//
// Each operation runs as a saga: when a step fails, the steps completed so far
// are compensated so that the systems stay consistent.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/deployment"
	"github.com/opst/orchestration/pkg/domain/diff"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/pid"
	"github.com/opst/orchestration/pkg/domain/provenance"
	kdb "github.com/opst/orchestration/pkg/domain/record/db"
	"github.com/opst/orchestration/pkg/domain/saga"
	"github.com/rs/zerolog"
)

// Outcome of an orchestration, as reported to Metrics.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	NoChange  Outcome = "no_change"
	Failed    Outcome = "failed"

	// Inconsistent means the operation failed and its compensation failed too.
	Inconsistent Outcome = "inconsistent"
)

// Metrics observes orchestrations.
type Metrics interface {
	Finished(kind domain.Kind, op xerr.Operation, outcome Outcome)
	Compensations(kind domain.Kind, op xerr.Operation) saga.Observer
}

type nopMetrics struct{}

func (nopMetrics) Finished(domain.Kind, xerr.Operation, Outcome) {}

func (nopMetrics) Compensations(domain.Kind, xerr.Operation) saga.Observer { return nil }

// Dependencies are the systems an orchestrator coordinates.
type Dependencies struct {
	PIDs      pid.Client
	Store     kdb.Interface
	Platform  deployment.Manager
	Publisher provenance.Publisher
	Events    *provenance.Builder
}

// Updated is the result of Update.
type Updated struct {
	Resource domain.Resource

	// Changed is false when the request was semantically the same as the
	// current version. Nothing has been written in that case.
	Changed bool
}

// Orchestrator runs lifecycle operations of one resource kind.
//
// An Orchestrator is safe for concurrent use. Concurrent updates of the same
// resource are serialized by the store: the loser gets ErrConflict.
type Orchestrator struct {
	handler KindHandler
	deps    Dependencies
	logger  zerolog.Logger
	metrics Metrics
	clock   func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func New(handler KindHandler, deps Dependencies, options ...Option) *Orchestrator {
	o := &Orchestrator{
		handler: handler,
		deps:    deps,
		logger:  zerolog.Nop(),
		metrics: nopMetrics{},
		clock:   time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	o.logger = o.logger.With().Str("kind", handler.Kind().String()).Logger()
	return o
}

func (o *Orchestrator) Kind() domain.Kind {
	return o.handler.Kind()
}

// now returns the current time at the precision of the store.
func (o *Orchestrator) now() time.Time {
	return o.clock().UTC().Truncate(time.Microsecond)
}

// after returns a timestamp strictly later than prior.
func (o *Orchestrator) after(prior time.Time) time.Time {
	now := o.now()
	if !now.After(prior) {
		now = prior.Add(time.Microsecond)
	}
	return now
}

// fail wraps err as an OrchestrationFailure and records the outcome.
func (o *Orchestrator) fail(op xerr.Operation, id string, err error) error {
	failure := &xerr.OrchestrationFailure{Kind: o.Kind(), ID: id, Operation: op, Err: err}

	outcome := Failed
	var sf *saga.StepFailure
	if errors.As(err, &sf) {
		failure.Step = sf.Step
		if len(sf.Stuck) != 0 {
			outcome = Inconsistent
		}
	}
	o.metrics.Finished(o.Kind(), op, outcome)
	return failure
}

// Create registers a new resource.
//
// A PID is issued, the record is persisted, platform objects are deployed (if
// the kind has any), and a creation event is published. When a step fails,
// the completed steps are undone and no identifier is handed out.
//
// # Returns
//
// - domain.Resource: the created resource at version 1.
//
// - error: *OrchestrationFailure. Its cause is ErrInvalid for unacceptable
// requests, or the error of the failed step.
func (o *Orchestrator) Create(ctx context.Context, request domain.Attributes, agent domain.Agent) (domain.Resource, error) {
	h := o.handler
	attrs, err := h.Build(ctx, request)
	if err != nil {
		return domain.Resource{}, o.fail(xerr.Create, "", err)
	}

	var (
		record domain.Resource
		desc   *deployment.Descriptor
	)
	logger := o.logger.With().Str("operation", string(xerr.Create)).Logger()

	steps := []saga.Step{
		{
			Name: "issue-pid",
			Do: func(ctx context.Context) error {
				id, err := o.deps.PIDs.Issue(ctx, h.Kind(), h.PidAttributes(attrs))
				if err != nil {
					return err
				}
				record.ID = id
				logger = logger.With().Str("id", id).Logger()
				return nil
			},
			Undo: func(ctx context.Context) error {
				return o.deps.PIDs.Rollback(ctx, record.ID)
			},
		},
		{
			Name: "build-record",
			Do: func(context.Context) error {
				now := o.now()
				record.Kind = h.Kind()
				record.Version = 1
				record.Status = domain.Active
				record.Created = now
				record.Modified = now
				record.Creator = agent
				record.Attributes = attrs

				d, err := h.Descriptor(record)
				if err != nil {
					return xerr.Invalid("rendering platform objects", err)
				}
				job, err := h.Trigger(record)
				if err != nil {
					return xerr.Invalid("rendering trigger job", err)
				}
				if job != nil {
					d.Job = job
				}
				desc = d
				return nil
			},
		},
		{
			Name: "persist",
			Do: func(ctx context.Context) error {
				return o.deps.Store.Create(ctx, record)
			},
			Undo: func(ctx context.Context) error {
				return o.deps.Store.RollbackCreate(ctx, record.Kind, record.ID)
			},
		},
		{
			Name:    "apply-platform",
			Partial: true,
			Do: func(ctx context.Context) error {
				if desc.Empty() {
					return nil
				}
				return o.deps.Platform.Apply(ctx, desc)
			},
			Undo: func(ctx context.Context) error {
				if desc.Empty() {
					return nil
				}
				return o.deps.Platform.Remove(ctx, desc)
			},
		},
		{
			Name: "publish",
			Do: func(ctx context.Context) error {
				return o.deps.Publisher.Publish(ctx, o.deps.Events.Create(record, agent))
			},
		},
	}

	if err := o.run(ctx, xerr.Create, &logger, steps); err != nil {
		var sf *saga.StepFailure
		id := ""
		if errors.As(err, &sf) && len(sf.Stuck) != 0 {
			// leftovers exist under this pid; operators need it.
			id = record.ID
		}
		return domain.Resource{}, o.fail(xerr.Create, id, err)
	}

	o.metrics.Finished(o.Kind(), xerr.Create, Succeeded)
	logger.Info().Msg("created")
	return record, nil
}

// Update replaces attributes of an active resource.
//
// When the request is semantically the same as the current version, Update
// returns the current version with Changed = false and has no side effects.
// Otherwise a new version is persisted, platform objects are replaced, and an
// update event carrying the diff is published.
//
// # Returns
//
// - error: *OrchestrationFailure. Its cause is ErrNotFound when the resource
// is not active, ErrConflict when another update won the race, ErrInvalid for
// unacceptable requests, or the error of the failed step.
func (o *Orchestrator) Update(ctx context.Context, id string, request domain.Attributes, agent domain.Agent) (Updated, error) {
	h := o.handler
	logger := o.logger.With().Str("operation", string(xerr.Update)).Str("id", id).Logger()

	current, err := o.deps.Store.GetActive(ctx, h.Kind(), id)
	if err != nil {
		return Updated{}, o.fail(xerr.Update, id, err)
	}
	attrs, err := h.Build(ctx, request)
	if err != nil {
		return Updated{}, o.fail(xerr.Update, id, err)
	}
	if cmp.Equal(current.Attributes, attrs, h.CompareOptions()...) {
		o.metrics.Finished(o.Kind(), xerr.Update, NoChange)
		logger.Debug().Int("version", current.Version).Msg("no change")
		return Updated{Resource: current, Changed: false}, nil
	}

	next := current
	next.Version = current.Version + 1
	next.Modified = o.after(current.Modified)
	next.Attributes = attrs

	changes, err := diff.Compare(current, next)
	if err != nil {
		return Updated{}, o.fail(xerr.Update, id, err)
	}
	prior, err := h.Descriptor(current)
	if err != nil {
		return Updated{}, o.fail(xerr.Update, id, xerr.Invalid("rendering platform objects", err))
	}
	desc, err := h.Descriptor(next)
	if err != nil {
		return Updated{}, o.fail(xerr.Update, id, xerr.Invalid("rendering platform objects", err))
	}

	steps := []saga.Step{
		{
			Name: "persist",
			Do: func(ctx context.Context) error {
				return o.deps.Store.Update(ctx, next)
			},
			Undo: func(ctx context.Context) error {
				return o.deps.Store.RevertUpdate(ctx, next)
			},
		},
		{
			Name:    "replace-platform",
			Partial: true,
			Do: func(ctx context.Context) error {
				if desc.Empty() {
					return nil
				}
				return o.deps.Platform.Replace(ctx, desc)
			},
			Undo: func(ctx context.Context) error {
				if prior.Empty() {
					return nil
				}
				return o.deps.Platform.Replace(ctx, prior)
			},
		},
		{
			Name: "publish",
			Do: func(ctx context.Context) error {
				return o.deps.Publisher.Publish(ctx, o.deps.Events.Update(next, changes, agent))
			},
		},
	}

	if err := o.run(ctx, xerr.Update, &logger, steps); err != nil {
		return Updated{}, o.fail(xerr.Update, id, err)
	}

	o.metrics.Finished(o.Kind(), xerr.Update, Succeeded)
	logger.Info().Int("version", next.Version).Int("changes", len(changes)).Msg("updated")
	return Updated{Resource: next, Changed: true}, nil
}

// Tombstone retires an active resource.
//
// Platform objects are removed, the tombstoned version is persisted, the PID
// record is tombstoned and a tombstone event is published. Steps are not
// compensated. A failure before the tombstone is persisted leaves the resource
// active, and a retry resumes the retirement. A failure after it is reported as
// Inconsistent and needs an operator: the resource is no longer active, so a
// retry is NotFound.
//
// # Returns
//
// - error: *OrchestrationFailure. Its cause is ErrNotFound when the resource
// is not active (including already tombstoned ones), or the error of the failed step.
func (o *Orchestrator) Tombstone(ctx context.Context, id string, agent domain.Agent, reason string) error {
	h := o.handler
	logger := o.logger.With().Str("operation", string(xerr.Tombstone)).Str("id", id).Logger()

	current, err := o.deps.Store.GetActive(ctx, h.Kind(), id)
	if err != nil {
		return o.fail(xerr.Tombstone, id, err)
	}
	desc, err := h.Descriptor(current)
	if err != nil {
		return o.fail(xerr.Tombstone, id, xerr.Invalid("rendering platform objects", err))
	}

	now := o.after(current.Modified)
	meta := domain.TombstoneMetadata{Agent: agent, At: now, Reason: reason}
	next := current
	next.Version = current.Version + 1
	next.Status = domain.Tombstoned
	next.Modified = now
	next.Tombstone = &meta

	changes, err := diff.Compare(current, next)
	if err != nil {
		return o.fail(xerr.Tombstone, id, err)
	}

	steps := []saga.Step{
		{
			Name: "remove-platform",
			Do: func(ctx context.Context) error {
				if desc.Empty() {
					return nil
				}
				return o.deps.Platform.Remove(ctx, desc)
			},
		},
		{
			Name:  "persist-tombstone",
			Pivot: true,
			Do: func(ctx context.Context) error {
				return o.deps.Store.Update(ctx, next)
			},
		},
		{
			Name: "tombstone-pid",
			Do: func(ctx context.Context) error {
				return o.deps.PIDs.Tombstone(ctx, h.Kind(), id, meta)
			},
		},
		{
			Name: "publish",
			Do: func(ctx context.Context) error {
				return o.deps.Publisher.Publish(ctx, o.deps.Events.Tombstone(next, changes, agent))
			},
		},
	}

	if err := o.run(ctx, xerr.Tombstone, &logger, steps); err != nil {
		return o.fail(xerr.Tombstone, id, err)
	}

	o.metrics.Finished(o.Kind(), xerr.Tombstone, Succeeded)
	logger.Info().Int("version", next.Version).Msg("tombstoned")
	return nil
}

// run executes steps as a saga.
//
// logger is read again after the run, so that identifiers learned by steps are logged.
func (o *Orchestrator) run(ctx context.Context, op xerr.Operation, logger *zerolog.Logger, steps []saga.Step) error {
	err := saga.New(*logger, o.metrics.Compensations(o.Kind(), op)).Run(ctx, steps...)
	var sf *saga.StepFailure
	if !errors.As(err, &sf) {
		return err
	}
	if len(sf.Stuck) != 0 {
		logger.Error().
			Bool("manual_intervention", true).
			Str("failed_step", sf.Step).
			Strs("stuck", sf.Stuck).
			Err(sf.Err).
			Msgf("%s failed and could not be compensated", op)
	} else {
		logger.Warn().Str("failed_step", sf.Step).Err(sf.Err).Msgf("%s failed", op)
	}
	return err
}

// Get returns the latest version of a resource, tombstoned or not.
func (o *Orchestrator) Get(ctx context.Context, id string) (domain.Resource, error) {
	return o.deps.Store.Get(ctx, o.Kind(), id)
}

// GetVersion returns a specific version of a resource.
func (o *Orchestrator) GetVersion(ctx context.Context, id string, version int) (domain.Resource, error) {
	return o.deps.Store.GetVersion(ctx, o.Kind(), id, version)
}

// List returns active resources, oldest first. Pages start at 1.
func (o *Orchestrator) List(ctx context.Context, page int, size int) ([]domain.Resource, error) {
	return o.deps.Store.List(ctx, o.Kind(), page, size)
}
