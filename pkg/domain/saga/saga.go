// Package saga runs an ordered list of steps against independent systems,
// compensating completed steps when a later one fails.
package saga

import (
	"context"
	"fmt"

	"github.com/opst/orchestration/pkg/utils/retry"
	"github.com/rs/zerolog"
)

// Step is a forward action paired with its compensation.
type Step struct {
	// Name of the step, reported in failures and logs.
	Name string

	// Do performs the side effect.
	Do func(context.Context) error

	// Undo semantically reverts Do. nil when the step has nothing to revert.
	//
	// Undo is attempted exactly once. Retries with pkg/utils/retry inside it make a single attempt.
	Undo func(context.Context) error

	// Partial marks steps which can leave some of their effect behind when Do fails.
	// Undo of such a step runs also for its own failure.
	Partial bool

	// Pivot marks the point of no return. Once a pivot step is done, a later failure
	// is not compensated: the failed step is reported as stuck instead.
	Pivot bool
}

// Outcome of a compensation.
type Outcome string

const (
	Compensated Outcome = "compensated"
	Stuck       Outcome = "stuck"
)

// Observer is notified of compensations. Metrics implement this.
type Observer interface {
	Compensation(step string, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) Compensation(string, Outcome) {}

// StepFailure is returned by Run when a step fails.
type StepFailure struct {
	Step string
	Err  error

	// Stuck lists steps leaving the systems inconsistent: those whose compensation
	// failed, or the failed step itself when it ran after a pivot.
	// Non-empty means an operator is needed.
	Stuck []string
}

func (f *StepFailure) Error() string {
	if len(f.Stuck) == 0 {
		return fmt.Sprintf("step %s: %s", f.Step, f.Err)
	}
	return fmt.Sprintf("step %s: %s (compensation failed at %v)", f.Step, f.Err, f.Stuck)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}

// Runner executes sagas.
type Runner struct {
	logger   zerolog.Logger
	observer Observer
}

func New(logger zerolog.Logger, observer Observer) *Runner {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Runner{logger: logger, observer: observer}
}

// Run executes steps in order.
//
// When a step fails, every completed step (and the failed one, if Partial) is
// compensated most-recent-first. A failing compensation is logged as requiring
// manual intervention and does not stop the remaining compensations.
//
// When a step fails after a pivot step is done, nothing is compensated.
// The failed step is logged as requiring manual intervention.
//
// # Returns
//
// - nil when all steps succeeded.
//
// - *StepFailure wrapping the error of the failed step otherwise.
// Compensation errors never replace it.
func (r *Runner) Run(ctx context.Context, steps ...Step) error {
	done := make([]Step, 0, len(steps))
	pivot := ""
	for _, s := range steps {
		err := s.Do(ctx)
		if err == nil {
			done = append(done, s)
			if s.Pivot {
				pivot = s.Name
			}
			continue
		}

		if pivot != "" {
			r.observer.Compensation(s.Name, Stuck)
			r.logger.Error().
				Bool("manual_intervention", true).
				Str("step", s.Name).
				Str("pivot", pivot).
				Err(err).
				Msg("step failed after the point of no return; systems are inconsistent and need an operator")
			return &StepFailure{Step: s.Name, Err: err, Stuck: []string{s.Name}}
		}

		if s.Partial {
			done = append(done, s)
		}
		failure := &StepFailure{Step: s.Name, Err: err}
		r.logger.Warn().Err(err).Str("step", s.Name).Msg("saga step failed, compensating")
		failure.Stuck = r.compensate(ctx, done, s.Name, err)
		return failure
	}
	return nil
}

func (r *Runner) compensate(ctx context.Context, done []Step, failedAt string, cause error) []string {
	// compensation must run even if the caller has gone away.
	ctx = retry.OnlyOnce(context.WithoutCancel(ctx))

	var stuck []string
	for i := len(done) - 1; 0 <= i; i-- {
		s := done[i]
		if s.Undo == nil {
			continue
		}
		if err := s.Undo(ctx); err != nil {
			stuck = append(stuck, s.Name)
			r.observer.Compensation(s.Name, Stuck)
			r.logger.Error().
				Bool("manual_intervention", true).
				Str("step", s.Name).
				Str("failed_step", failedAt).
				AnErr("cause", cause).
				Err(err).
				Msg("compensation failed; systems are inconsistent and need an operator")
			continue
		}
		r.observer.Compensation(s.Name, Compensated)
		r.logger.Info().Str("step", s.Name).Msg("compensated")
	}
	return stuck
}
