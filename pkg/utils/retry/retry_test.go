package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opst/orchestration/pkg/utils/retry"
)

var errServer = errors.New("server error")
var errClient = errors.New("client error")

func isServer(err error) bool { return errors.Is(err, errServer) }

func TestPolicy_Do(t *testing.T) {
	type when struct {
		policy  retry.Policy
		results []error
	}
	type then struct {
		calls     int
		err       error
		exhausted bool
	}

	for name, testcase := range map[string]struct {
		when when
		then then
	}{
		"when the first attempt succeeds, it calls once": {
			when: when{
				policy:  retry.Policy{MaxAttempts: 3, Retryable: isServer},
				results: []error{nil},
			},
			then: then{calls: 1},
		},
		"when retryable errors occur, it retries until success": {
			when: when{
				policy:  retry.Policy{MaxAttempts: 3, Retryable: isServer},
				results: []error{errServer, errServer, nil},
			},
			then: then{calls: 3},
		},
		"when a non-retryable error occurs, it stops immediately": {
			when: when{
				policy:  retry.Policy{MaxAttempts: 3, Retryable: isServer},
				results: []error{errClient, nil},
			},
			then: then{calls: 1, err: errClient},
		},
		"when attempts run out, it reports exhaustion with the last error": {
			when: when{
				policy:  retry.Policy{MaxAttempts: 2, Retryable: isServer},
				results: []error{errServer, errServer, nil},
			},
			then: then{calls: 2, err: errServer, exhausted: true},
		},
		"Once never retries": {
			when: when{
				policy:  retry.Once,
				results: []error{errServer, nil},
			},
			then: then{calls: 1, err: errServer},
		},
		"ErrRetry is retried without predicate": {
			when: when{
				policy:  retry.Policy{MaxAttempts: 2},
				results: []error{retry.ErrRetry, nil},
			},
			then: then{calls: 2},
		},
	} {
		t.Run(name, func(t *testing.T) {
			calls := 0
			_, err := retry.Do(context.Background(), testcase.when.policy, func(context.Context) (int, error) {
				r := testcase.when.results[calls]
				calls += 1
				return calls, r
			})

			if calls != testcase.then.calls {
				t.Errorf("calls: actual = %d, expected = %d", calls, testcase.then.calls)
			}
			if testcase.then.err == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, testcase.then.err) {
				t.Errorf("error: actual = %v, expected = %v", err, testcase.then.err)
			}
			if got := errors.Is(err, retry.ErrExhausted); got != testcase.then.exhausted {
				t.Errorf("exhausted: actual = %v, expected = %v", got, testcase.then.exhausted)
			}
		})
	}

	t.Run("under OnlyOnce, a retryable error is not retried", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(
			retry.OnlyOnce(context.Background()),
			retry.Policy{MaxAttempts: 3, Retryable: isServer},
			func(context.Context) (int, error) {
				calls += 1
				return 0, errServer
			},
		)
		if !errors.Is(err, errServer) || errors.Is(err, retry.ErrExhausted) {
			t.Errorf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("calls: %d", calls)
		}
	})

	t.Run("it stops waiting when context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retry.Do(ctx, retry.Policy{MaxAttempts: 5, Delay: time.Hour, Retryable: isServer}, func(context.Context) (int, error) {
			calls += 1
			cancel()
			return 0, errServer
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("calls: %d", calls)
		}
	})
}
