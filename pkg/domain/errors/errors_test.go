package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
)

func TestPidError(t *testing.T) {
	t.Run("401 is an authentication failure and a pid failure", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", xerr.NewPidError(401, "unauthorized", nil))
		if !errors.Is(err, xerr.ErrPidAuthentication) {
			t.Errorf("not ErrPidAuthentication: %v", err)
		}
		if !errors.Is(err, xerr.ErrPidFailure) {
			t.Errorf("not ErrPidFailure: %v", err)
		}
		pe, ok := xerr.AsPidError(err)
		if !ok || pe.Status != 401 {
			t.Errorf("unexpected PidError: %+v", pe)
		}
	})

	t.Run("other statuses are pid failures, not authentication failures", func(t *testing.T) {
		err := xerr.NewPidError(400, "bad request", nil)
		if !errors.Is(err, xerr.ErrPidFailure) {
			t.Errorf("not ErrPidFailure: %v", err)
		}
		if errors.Is(err, xerr.ErrPidAuthentication) {
			t.Errorf("unexpectedly ErrPidAuthentication: %v", err)
		}
	})
}

func TestOrchestrationFailure(t *testing.T) {
	cause := xerr.NewPlatformError("Deployment/abc-deployment", errors.New("quota exceeded"))
	err := error(&xerr.OrchestrationFailure{
		Kind: domain.AnnotationService, ID: "20.5000.1025/ABC", Operation: xerr.Create,
		Step: "apply-platform", Err: cause,
	})

	if !errors.Is(err, xerr.ErrPlatformFailure) {
		t.Errorf("cause is lost: %v", err)
	}
	of, ok := xerr.AsOrchestrationFailure(err)
	if !ok {
		t.Fatalf("not an OrchestrationFailure: %v", err)
	}
	if of.Step != "apply-platform" {
		t.Errorf("unexpected step: %s", of.Step)
	}
	pe, ok := xerr.AsPlatformError(err)
	if !ok || pe.Object != "Deployment/abc-deployment" {
		t.Errorf("unexpected PlatformError: %+v", pe)
	}
}

func TestNotFoundAndConflict(t *testing.T) {
	if err := xerr.NotFound(domain.Mapping, "x"); !errors.Is(err, xerr.ErrNotFound) {
		t.Errorf("unexpected: %v", err)
	}
	if err := xerr.Conflict(domain.Mapping, "x", 3); !errors.Is(err, xerr.ErrConflict) {
		t.Errorf("unexpected: %v", err)
	}
	if err := xerr.Invalid("bad", errors.New("cause")); !errors.Is(err, xerr.ErrInvalid) {
		t.Errorf("unexpected: %v", err)
	}
}
