package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/deployment"
	"github.com/opst/orchestration/pkg/domain/diff"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	kdb "github.com/opst/orchestration/pkg/domain/record/db"
	kubebatch "k8s.io/api/batch/v1"
)

// KindHandler supplies everything kind-specific to the orchestrator.
type KindHandler interface {
	Kind() domain.Kind

	// Build validates a request and returns the attributes to be stored.
	//
	// # Returns
	//
	// - error: ErrInvalid when the request is not acceptable.
	Build(ctx context.Context, request domain.Attributes) (domain.Attributes, error)

	// PidAttributes are sent to the PID registry on issuing a PID for attrs.
	PidAttributes(attrs domain.Attributes) map[string]any

	// CompareOptions decide semantic equality of attributes of the kind.
	CompareOptions() cmp.Options

	// Descriptor renders platform objects of r. Empty when the kind has no platform presence.
	Descriptor(r domain.Resource) (*deployment.Descriptor, error)

	// Trigger renders a one-shot job started on creation. nil when the kind has none.
	Trigger(r domain.Resource) (*kubebatch.Job, error)
}

// NewValidator returns a validator for attribute types.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func validate(v *validator.Validate, attrs domain.Attributes) error {
	err := v.Struct(attrs)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return xerr.Invalid("invalid fields: "+strings.Join(fields, ", "), err)
	}
	return xerr.Invalid("validation", err)
}

func typeMismatch(kind domain.Kind, request domain.Attributes) error {
	return xerr.Invalid(fmt.Sprintf("%s does not accept attributes %T", kind, request), nil)
}

type mappingHandler struct {
	validate *validator.Validate
}

// Mappings have no platform presence.
func Mapping(v *validator.Validate) KindHandler {
	return &mappingHandler{validate: v}
}

func (*mappingHandler) Kind() domain.Kind { return domain.Mapping }

func (h *mappingHandler) Build(_ context.Context, request domain.Attributes) (domain.Attributes, error) {
	attrs, ok := request.(*domain.MappingAttributes)
	if !ok || attrs == nil {
		return nil, typeMismatch(domain.Mapping, request)
	}
	if err := validate(h.validate, attrs); err != nil {
		return nil, err
	}
	c := *attrs
	return &c, nil
}

func (*mappingHandler) PidAttributes(attrs domain.Attributes) map[string]any {
	a := attrs.(*domain.MappingAttributes)
	return map[string]any{"name": a.Name, "sourceDataStandard": a.SourceDataStandard}
}

func (*mappingHandler) CompareOptions() cmp.Options {
	return diff.Options(domain.Mapping)
}

func (*mappingHandler) Descriptor(r domain.Resource) (*deployment.Descriptor, error) {
	return &deployment.Descriptor{ShortID: r.ShortID()}, nil
}

func (*mappingHandler) Trigger(domain.Resource) (*kubebatch.Job, error) {
	return nil, nil
}

type connectorHandler struct {
	validate *validator.Validate
	mappings kdb.Interface
	renderer deployment.Renderer
}

// Connector runs as a scheduled translator job, and is triggered once on creation.
//
// A connector refers to an active mapping, which is looked up in mappings.
func Connector(v *validator.Validate, mappings kdb.Interface, renderer deployment.Renderer) KindHandler {
	return &connectorHandler{validate: v, mappings: mappings, renderer: renderer}
}

func (*connectorHandler) Kind() domain.Kind { return domain.Connector }

func (h *connectorHandler) Build(ctx context.Context, request domain.Attributes) (domain.Attributes, error) {
	attrs, ok := request.(*domain.ConnectorAttributes)
	if !ok || attrs == nil {
		return nil, typeMismatch(domain.Connector, request)
	}
	if err := validate(h.validate, attrs); err != nil {
		return nil, err
	}
	if _, err := h.mappings.GetActive(ctx, domain.Mapping, attrs.MappingID); err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			return nil, xerr.Invalid(fmt.Sprintf("mapping %s is not an active mapping", attrs.MappingID), nil)
		}
		return nil, err
	}
	c := *attrs
	return &c, nil
}

func (*connectorHandler) PidAttributes(attrs domain.Attributes) map[string]any {
	a := attrs.(*domain.ConnectorAttributes)
	return map[string]any{"name": a.Name, "endpoint": a.Endpoint}
}

func (*connectorHandler) CompareOptions() cmp.Options {
	return diff.Options(domain.Connector)
}

func (h *connectorHandler) Descriptor(r domain.Resource) (*deployment.Descriptor, error) {
	return h.renderer.Descriptor(r)
}

func (h *connectorHandler) Trigger(r domain.Resource) (*kubebatch.Job, error) {
	return h.renderer.Trigger(r)
}

type annotationServiceHandler struct {
	validate *validator.Validate
	renderer deployment.Renderer
}

// AnnotationService runs as an autoscaled deployment.
func AnnotationService(v *validator.Validate, renderer deployment.Renderer) KindHandler {
	return &annotationServiceHandler{validate: v, renderer: renderer}
}

func (*annotationServiceHandler) Kind() domain.Kind { return domain.AnnotationService }

func (h *annotationServiceHandler) Build(_ context.Context, request domain.Attributes) (domain.Attributes, error) {
	attrs, ok := request.(*domain.AnnotationServiceAttributes)
	if !ok || attrs == nil {
		return nil, typeMismatch(domain.AnnotationService, request)
	}
	if err := validate(h.validate, attrs); err != nil {
		return nil, err
	}
	image := attrs.ContainerImage + ":" + attrs.ContainerTag
	if _, err := name.ParseReference(image); err != nil {
		return nil, xerr.Invalid(fmt.Sprintf("container image %q", image), err)
	}
	c := *attrs
	return &c, nil
}

func (*annotationServiceHandler) PidAttributes(attrs domain.Attributes) map[string]any {
	a := attrs.(*domain.AnnotationServiceAttributes)
	return map[string]any{"name": a.Name, "containerImage": a.ContainerImage + ":" + a.ContainerTag}
}

func (*annotationServiceHandler) CompareOptions() cmp.Options {
	return diff.Options(domain.AnnotationService)
}

func (h *annotationServiceHandler) Descriptor(r domain.Resource) (*deployment.Descriptor, error) {
	return h.renderer.Descriptor(r)
}

func (*annotationServiceHandler) Trigger(domain.Resource) (*kubebatch.Job, error) {
	return nil, nil
}
