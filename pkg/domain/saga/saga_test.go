package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/orchestration/pkg/domain/saga"
	"github.com/opst/orchestration/pkg/utils/retry"
	"github.com/rs/zerolog"
)

type spyObserver struct {
	calls []string
}

func (s *spyObserver) Compensation(step string, outcome saga.Outcome) {
	s.calls = append(s.calls, step+":"+string(outcome))
}

type journal struct {
	entries []string
}

func (j *journal) step(name string, doErr error, undoErr error) saga.Step {
	return saga.Step{
		Name: name,
		Do: func(context.Context) error {
			j.entries = append(j.entries, "do "+name)
			return doErr
		},
		Undo: func(context.Context) error {
			j.entries = append(j.entries, "undo "+name)
			return undoErr
		},
	}
}

func TestRunner_Run(t *testing.T) {
	t.Run("when all steps succeed, nothing is compensated", func(t *testing.T) {
		j := &journal{}
		obs := &spyObserver{}
		testee := saga.New(zerolog.Nop(), obs)

		err := testee.Run(context.Background(), j.step("a", nil, nil), j.step("b", nil, nil))
		if err != nil {
			t.Fatal(err)
		}
		if expected := []string{"do a", "do b"}; !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
		if len(obs.calls) != 0 {
			t.Errorf("unexpected compensations: %v", obs.calls)
		}
	})

	t.Run("when a step fails, completed steps are compensated most-recent-first", func(t *testing.T) {
		j := &journal{}
		obs := &spyObserver{}
		testee := saga.New(zerolog.Nop(), obs)
		cause := errors.New("fake")

		err := testee.Run(
			context.Background(),
			j.step("a", nil, nil), j.step("b", nil, nil), j.step("c", cause, nil), j.step("d", nil, nil),
		)

		var failure *saga.StepFailure
		if !errors.As(err, &failure) {
			t.Fatalf("unexpected error: %v", err)
		}
		if failure.Step != "c" || !errors.Is(err, cause) || len(failure.Stuck) != 0 {
			t.Errorf("unexpected failure: %+v", failure)
		}
		expected := []string{"do a", "do b", "do c", "undo b", "undo a"}
		if !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
		if expected := []string{"b:compensated", "a:compensated"}; !cmp.Equal(obs.calls, expected) {
			t.Errorf("unexpected observations:\n%s", cmp.Diff(expected, obs.calls))
		}
	})

	t.Run("a partial step is compensated for its own failure", func(t *testing.T) {
		j := &journal{}
		testee := saga.New(zerolog.Nop(), nil)
		partial := j.step("b", errors.New("half done"), nil)
		partial.Partial = true

		err := testee.Run(context.Background(), j.step("a", nil, nil), partial)
		if err == nil {
			t.Fatal("expected error")
		}
		expected := []string{"do a", "do b", "undo b", "undo a"}
		if !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
	})

	t.Run("steps without Undo are skipped in compensation", func(t *testing.T) {
		j := &journal{}
		testee := saga.New(zerolog.Nop(), nil)
		noUndo := j.step("b", nil, nil)
		noUndo.Undo = nil

		err := testee.Run(context.Background(), j.step("a", nil, nil), noUndo, j.step("c", errors.New("fake"), nil))
		if err == nil {
			t.Fatal("expected error")
		}
		expected := []string{"do a", "do b", "do c", "undo a"}
		if !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
	})

	t.Run("a failing compensation does not mask the original error nor stop other compensations", func(t *testing.T) {
		j := &journal{}
		obs := &spyObserver{}
		testee := saga.New(zerolog.Nop(), obs)
		cause := errors.New("original")
		undoErr := errors.New("undo failed")

		err := testee.Run(
			context.Background(),
			j.step("a", nil, nil), j.step("b", nil, undoErr), j.step("c", cause, nil),
		)

		if !errors.Is(err, cause) {
			t.Errorf("original error is lost: %v", err)
		}
		if errors.Is(err, undoErr) {
			t.Errorf("compensation error must not be primary: %v", err)
		}
		var failure *saga.StepFailure
		if !errors.As(err, &failure) || !cmp.Equal(failure.Stuck, []string{"b"}) {
			t.Errorf("unexpected failure: %+v", failure)
		}
		expected := []string{"do a", "do b", "do c", "undo b", "undo a"}
		if !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
		if expected := []string{"b:stuck", "a:compensated"}; !cmp.Equal(obs.calls, expected) {
			t.Errorf("unexpected observations:\n%s", cmp.Diff(expected, obs.calls))
		}
	})

	t.Run("compensations are attempted once", func(t *testing.T) {
		undoCalls := 0
		testee := saga.New(zerolog.Nop(), nil)
		err := testee.Run(
			context.Background(),
			saga.Step{
				Name: "a",
				Do:   func(context.Context) error { return nil },
				Undo: func(context.Context) error { undoCalls += 1; return errors.New("nope") },
			},
			saga.Step{Name: "b", Do: func(context.Context) error { return errors.New("fake") }},
		)
		if err == nil {
			t.Fatal("expected error")
		}
		if undoCalls != 1 {
			t.Errorf("undo calls: %d", undoCalls)
		}
	})

	t.Run("retries inside a compensation make a single attempt", func(t *testing.T) {
		transient := errors.New("unavailable")
		attempts := 0
		undo := func(ctx context.Context) error {
			_, err := retry.Do(
				ctx,
				retry.Policy{MaxAttempts: 3, Retryable: func(err error) bool { return errors.Is(err, transient) }},
				func(context.Context) (struct{}, error) {
					attempts += 1
					return struct{}{}, transient
				},
			)
			return err
		}
		testee := saga.New(zerolog.Nop(), nil)
		err := testee.Run(
			context.Background(),
			saga.Step{Name: "a", Do: func(context.Context) error { return nil }, Undo: undo},
			saga.Step{Name: "b", Do: func(context.Context) error { return errors.New("fake") }},
		)

		var failure *saga.StepFailure
		if !errors.As(err, &failure) || !cmp.Equal(failure.Stuck, []string{"a"}) {
			t.Errorf("unexpected failure: %v", err)
		}
		if attempts != 1 {
			t.Errorf("attempts: %d", attempts)
		}
	})

	t.Run("a failure after the pivot is not compensated but stuck", func(t *testing.T) {
		j := &journal{}
		obs := &spyObserver{}
		testee := saga.New(zerolog.Nop(), obs)
		cause := errors.New("fake")
		pivot := j.step("b", nil, nil)
		pivot.Pivot = true

		err := testee.Run(context.Background(), j.step("a", nil, nil), pivot, j.step("c", cause, nil), j.step("d", nil, nil))

		var failure *saga.StepFailure
		if !errors.As(err, &failure) || !errors.Is(err, cause) {
			t.Fatalf("unexpected error: %v", err)
		}
		if failure.Step != "c" || !cmp.Equal(failure.Stuck, []string{"c"}) {
			t.Errorf("unexpected failure: %+v", failure)
		}
		if expected := []string{"do a", "do b", "do c"}; !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
		if expected := []string{"c:stuck"}; !cmp.Equal(obs.calls, expected) {
			t.Errorf("unexpected observations:\n%s", cmp.Diff(expected, obs.calls))
		}
	})

	t.Run("a failure of the pivot itself is compensated as usual", func(t *testing.T) {
		j := &journal{}
		testee := saga.New(zerolog.Nop(), nil)
		pivot := j.step("b", errors.New("fake"), nil)
		pivot.Pivot = true

		err := testee.Run(context.Background(), j.step("a", nil, nil), pivot)

		var failure *saga.StepFailure
		if !errors.As(err, &failure) || len(failure.Stuck) != 0 {
			t.Errorf("unexpected failure: %v", err)
		}
		if expected := []string{"do a", "do b", "undo a"}; !cmp.Equal(j.entries, expected) {
			t.Errorf("unexpected journal:\n%s", cmp.Diff(expected, j.entries))
		}
	})
}
