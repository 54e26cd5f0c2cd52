// Package provenance builds and publishes the audit trail of resources.
//
// Every successful create, update and tombstone emits exactly one event.
package provenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/diff"
)

const EventType = "CreateUpdateTombstoneEvent"

// Activity is what happened to the resource.
type Activity string

const (
	Create    Activity = "Create"
	Update    Activity = "Update"
	Tombstone Activity = "Tombstone"
)

// Role of an agent in an activity.
type Role string

const (
	// the agent who asked for the change.
	Requestor Role = "requestor"

	// the service which carried the change out.
	Generator Role = "generator"
)

type AgentRole struct {
	ID   string           `json:"id"`
	Name string           `json:"name,omitempty"`
	Type domain.AgentType `json:"type"`
	Role Role             `json:"role"`
}

type ActivityRecord struct {
	ID   string   `json:"id"`
	Type Activity `json:"type"`

	// ChangeValue is the diff against the prior snapshot. Absent for creates.
	ChangeValue []diff.Change `json:"changeValue,omitempty"`

	EndedAt          time.Time   `json:"endedAt"`
	AssociatedAgents []AgentRole `json:"associatedAgents"`

	// Comment is the reason of a tombstone.
	Comment string `json:"comment,omitempty"`
}

type Entity struct {
	// ID is "{pid}/{version}".
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Value domain.Resource `json:"value"`

	// GeneratedBy is the id of the activity.
	GeneratedBy string `json:"generatedBy"`
}

// Event is a provenance record of one change.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Activity  ActivityRecord `json:"activity"`
	Entity    Entity         `json:"entity"`
	HasAgents []AgentRole    `json:"hasAgents"`

	// Kind selects the routing of the event. It is not a part of the document.
	Kind domain.Kind `json:"-"`
}

// RoutingKey is "{prefix}.{kind}", or the kind alone without prefix.
func (e Event) RoutingKey(prefix string) string {
	if prefix == "" {
		return e.Kind.String()
	}
	return prefix + "." + e.Kind.String()
}

// Publisher sends events to the message bus.
type Publisher interface {
	// Publish sends e and waits for the bus to acknowledge it.
	//
	// # Returns
	//
	// - error: ErrPublishFailure when e is not acknowledged.
	Publish(ctx context.Context, e Event) error
}

// Builder builds events on behalf of one service agent.
type Builder struct {
	service domain.Agent
	newID   func() string
}

type Option func(*Builder)

// WithIDs replaces the generator of event ids.
func WithIDs(f func() string) Option {
	return func(b *Builder) {
		b.newID = f
	}
}

func NewBuilder(service domain.Agent, options ...Option) *Builder {
	b := &Builder{service: service, newID: uuid.NewString}
	for _, o := range options {
		o(b)
	}
	return b
}

// Create builds the event of a resource creation.
func (b *Builder) Create(r domain.Resource, actor domain.Agent) Event {
	return b.build(Create, r, nil, actor, "")
}

// Update builds the event of a resource update. changes turn prior into r.
func (b *Builder) Update(r domain.Resource, changes []diff.Change, actor domain.Agent) Event {
	return b.build(Update, r, changes, actor, "")
}

// Tombstone builds the event of a resource tombstone. changes turn the last active snapshot into r.
func (b *Builder) Tombstone(r domain.Resource, changes []diff.Change, actor domain.Agent) Event {
	reason := ""
	if r.Tombstone != nil {
		reason = r.Tombstone.Reason
	}
	return b.build(Tombstone, r, changes, actor, reason)
}

func (b *Builder) build(activity Activity, r domain.Resource, changes []diff.Change, actor domain.Agent, comment string) Event {
	entityID := fmt.Sprintf("%s/%d", r.ID, r.Version)
	activityID := b.newID()
	agents := []AgentRole{
		{ID: actor.ID, Name: actor.Name, Type: actor.Type, Role: Requestor},
		{ID: b.service.ID, Name: b.service.Name, Type: b.service.Type, Role: Generator},
	}

	return Event{
		ID:   b.newID(),
		Type: EventType,
		Activity: ActivityRecord{
			ID:               activityID,
			Type:             activity,
			ChangeValue:      changes,
			EndedAt:          r.Modified,
			AssociatedAgents: agents,
			Comment:          comment,
		},
		Entity: Entity{
			ID:          entityID,
			Type:        r.Kind.Type(),
			Value:       r,
			GeneratedBy: activityID,
		},
		HasAgents: agents,
		Kind:      r.Kind,
	}
}
