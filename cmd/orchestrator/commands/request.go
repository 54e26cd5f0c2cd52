package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/opst/orchestration/pkg/domain"
	"gopkg.in/yaml.v3"
)

// DecodeRequest reads attributes of the kind from YAML (or JSON).
//
// Unknown fields are rejected.
func DecodeRequest(kind domain.Kind, content []byte) (domain.Attributes, error) {
	var attrs domain.Attributes
	switch kind {
	case domain.Mapping:
		attrs = &domain.MappingAttributes{}
	case domain.Connector:
		attrs = &domain.ConnectorAttributes{}
	case domain.AnnotationService:
		attrs = &domain.AnnotationServiceAttributes{}
	default:
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(attrs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request is empty")
		}
		return nil, fmt.Errorf("request: %w", err)
	}
	return attrs, nil
}
