package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind of orchestrated resource.
//
// The string value is also the routing-key suffix for provenance events.
type Kind string

const (
	Mapping           Kind = "data-mapping"
	Connector         Kind = "source-system"
	AnnotationService Kind = "machine-annotation-service"
)

func (k Kind) String() string {
	return string(k)
}

// Type is the object type name used by the PID registry and provenance events.
func (k Kind) Type() string {
	switch k {
	case Mapping:
		return "DataMapping"
	case Connector:
		return "SourceSystem"
	case AnnotationService:
		return "MachineAnnotationService"
	default:
		return string(k)
	}
}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Mapping, Connector, AnnotationService:
		return k, nil
	}
	return "", fmt.Errorf("unknown resource kind: %q", s)
}

type Status string

const (
	Active     Status = "Active"
	Tombstoned Status = "Tombstoned"
)

type AgentType string

const (
	Person   AgentType = "Person"
	Software AgentType = "Software"
)

// Agent is someone or something acting on resources.
type Agent struct {
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
	Type AgentType `json:"type"`
}

// TombstoneMetadata is written once when a resource is tombstoned.
type TombstoneMetadata struct {
	Agent  Agent     `json:"agent"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Resource is a snapshot of an orchestrated resource at one version.
type Resource struct {
	ID        string             `json:"id"`
	Kind      Kind               `json:"kind"`
	Version   int                `json:"version"`
	Status    Status             `json:"status"`
	Created   time.Time          `json:"createdAt"`
	Modified  time.Time          `json:"modifiedAt"`
	Creator   Agent              `json:"creator"`
	Tombstone *TombstoneMetadata `json:"tombstone,omitempty"`

	Attributes Attributes `json:"attributes"`
}

// ShortID is the suffix of the PID, used to name platform objects.
//
// For "20.5000.1025/ABC-DEF-GHI", it returns "abc-def-ghi".
func (r Resource) ShortID() string {
	return ShortID(r.ID)
}

func ShortID(pid string) string {
	if i := strings.LastIndex(pid, "/"); 0 <= i {
		pid = pid[i+1:]
	}
	return strings.ToLower(pid)
}

func (r Resource) IsActive() bool {
	return r.Status == Active
}

// UnmarshalJSON decodes attributes into the concrete type for the kind.
func (r *Resource) UnmarshalJSON(b []byte) error {
	type plain Resource
	aux := struct {
		*plain
		Attributes json.RawMessage `json:"attributes"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	attrs, err := DecodeAttributes(r.Kind, aux.Attributes)
	if err != nil {
		return err
	}
	r.Attributes = attrs
	return nil
}

// Attributes are the kind-specific part of a resource.
type Attributes interface {
	Kind() Kind
}

// DecodeAttributes decodes JSON into the attribute type for the kind.
func DecodeAttributes(kind Kind, b []byte) (Attributes, error) {
	var attrs Attributes
	switch kind {
	case Mapping:
		attrs = &MappingAttributes{}
	case Connector:
		attrs = &ConnectorAttributes{}
	case AnnotationService:
		attrs = &AnnotationServiceAttributes{}
	default:
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}
	if len(b) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(b, attrs); err != nil {
		return nil, fmt.Errorf("decode %s attributes: %w", kind, err)
	}
	return attrs, nil
}
