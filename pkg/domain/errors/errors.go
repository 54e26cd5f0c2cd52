package errors

import (
	"errors"
	"fmt"

	"github.com/opst/orchestration/pkg/domain"
)

var (
	// resource is absent or tombstoned.
	ErrNotFound = errors.New("not found")

	// the optimistic-concurrency guard lost a race.
	ErrConflict = errors.New("conflict")

	// request (or the record built from it) is not acceptable.
	ErrInvalid = errors.New("invalid")

	// PID registry is unreachable, rejected the request, or authentication failed.
	ErrPidFailure = errors.New("pid registry failure")

	// PID registry rejected our credentials. It is also an ErrPidFailure.
	ErrPidAuthentication = fmt.Errorf("%w: authentication failed", ErrPidFailure)

	// container platform API rejected or errored.
	ErrPlatformFailure = errors.New("platform failure")

	// message bus unreachable or rejected.
	ErrPublishFailure = errors.New("publish failure")
)

func as[E error](err error) (E, bool) {
	var e E
	if err == nil {
		return e, false
	}
	ok := errors.As(err, &e)
	return e, ok
}

type wrappingError struct {
	message  string
	causedBy error
}

func format(kind error, e wrappingError) string {
	switch {
	case e.causedBy == nil && e.message == "":
		return kind.Error()
	case e.causedBy == nil:
		return fmt.Sprintf("%s: %s", kind, e.message)
	case e.message == "":
		return fmt.Sprintf("%s / caused by: %s", kind, e.causedBy)
	default:
		return fmt.Sprintf("%s: %s / caused by: %s", kind, e.message, e.causedBy)
	}
}

// PidError is a failure reported by the PID registry client.
type PidError struct {
	// HTTP status code returned by the registry. 0 when no response was received.
	Status int
	wrappingError
}

var AsPidError = as[*PidError]

func NewPidError(status int, message string, causedBy error) error {
	return &PidError{Status: status, wrappingError: wrappingError{message: message, causedBy: causedBy}}
}

func (e *PidError) kind() error {
	if e.Status == 401 {
		return ErrPidAuthentication
	}
	return ErrPidFailure
}

func (e *PidError) Error() string {
	return format(e.kind(), e.wrappingError)
}

func (e *PidError) Is(target error) bool {
	return errors.Is(e.kind(), target)
}

func (e *PidError) Unwrap() error {
	return e.causedBy
}

// PlatformError is a failure reported by the container platform.
type PlatformError struct {
	// Object is "{kind}/{name}" of the platform object in question.
	Object string
	wrappingError
}

var AsPlatformError = as[*PlatformError]

func NewPlatformError(object string, causedBy error) error {
	return &PlatformError{Object: object, wrappingError: wrappingError{message: object, causedBy: causedBy}}
}

func (e *PlatformError) Error() string {
	return format(ErrPlatformFailure, e.wrappingError)
}

func (e *PlatformError) Is(target error) bool {
	return target == ErrPlatformFailure
}

func (e *PlatformError) Unwrap() error {
	return e.causedBy
}

// PublishError is a failure to emit a provenance event.
type PublishError struct {
	// RoutingKey of the event which could not be published.
	RoutingKey string
	wrappingError
}

var AsPublishError = as[*PublishError]

func NewPublishError(routingKey string, causedBy error) error {
	return &PublishError{RoutingKey: routingKey, wrappingError: wrappingError{message: routingKey, causedBy: causedBy}}
}

func (e *PublishError) Error() string {
	return format(ErrPublishFailure, e.wrappingError)
}

func (e *PublishError) Is(target error) bool {
	return target == ErrPublishFailure
}

func (e *PublishError) Unwrap() error {
	return e.causedBy
}

// NotFound reports a missing (or no longer active) resource.
func NotFound(kind domain.Kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Conflict reports a lost optimistic-concurrency race.
func Conflict(kind domain.Kind, id string, version int) error {
	return fmt.Errorf("%w: %s %s is no longer at version %d", ErrConflict, kind, id, version)
}

func Invalid(message string, causedBy error) error {
	if causedBy == nil {
		return fmt.Errorf("%w: %s", ErrInvalid, message)
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalid, message, causedBy)
}

type Operation string

const (
	Create    Operation = "create"
	Update    Operation = "update"
	Tombstone Operation = "tombstone"
)

// OrchestrationFailure is the single error callers of the orchestrator receive.
//
// It names the resource, the operation and the saga step which failed.
// The cause is available through errors.Is / errors.As.
type OrchestrationFailure struct {
	Kind      domain.Kind
	ID        string
	Operation Operation
	Step      string
	Err       error
}

var AsOrchestrationFailure = as[*OrchestrationFailure]

func (e *OrchestrationFailure) Error() string {
	id := e.ID
	if id == "" {
		id = "(no pid)"
	}
	if e.Step == "" {
		return fmt.Sprintf("%s %s %s failed: %s", e.Operation, e.Kind, id, e.Err)
	}
	return fmt.Sprintf("%s %s %s failed at %s: %s", e.Operation, e.Kind, id, e.Step, e.Err)
}

func (e *OrchestrationFailure) Unwrap() error {
	return e.Err
}
