package engine

import (
	"context"
	"time"
)

// StackStore persists stack rows.
type StackStore interface {
	// CreateStack inserts a new stack row. The record's ID must be set.
	CreateStack(ctx context.Context, stack *StackRecord) error

	// UpdateStack overwrites the mutable columns of an existing stack row.
	UpdateStack(ctx context.Context, stack *StackRecord) error

	// GetStack retrieves a stack by ID.
	GetStack(ctx context.Context, id string) (*StackRecord, error)

	// GetStackByName retrieves a stack by its unique name.
	GetStackByName(ctx context.Context, name string) (*StackRecord, error)

	// ListStacks lists all stacks ordered by creation time.
	ListStacks(ctx context.Context) ([]*StackRecord, error)

	// DeleteStack removes a stack together with its resources and events.
	DeleteStack(ctx context.Context, id string) error
}

// ResourceStore persists resource rows.
type ResourceStore interface {
	// CreateResource inserts a resource row. The record's ID must be set.
	CreateResource(ctx context.Context, resource *ResourceRecord) error

	// UpdateResource overwrites the mutable columns of a resource row.
	UpdateResource(ctx context.Context, resource *ResourceRecord) error

	// DeleteResource removes a resource row.
	DeleteResource(ctx context.Context, id string) error

	// ListResources lists the resource rows of a stack.
	ListResources(ctx context.Context, stackID string) ([]*ResourceRecord, error)
}

// EventStore persists the append-only resource event log.
type EventStore interface {
	// AddEvent appends an event.
	AddEvent(ctx context.Context, event *EventRecord) error

	// ListEvents returns the events of a stack in the order they were recorded.
	ListEvents(ctx context.Context, stackID string) ([]*EventRecord, error)
}

// Repository is the persistence surface the engine needs.
type Repository interface {
	StackStore
	ResourceStore
	EventStore
}

// Observer is notified when a resource action finishes. It is used for
// metrics and must not block.
type Observer interface {
	ResourceActionFinished(resourceType string, action Action, status Status, duration time.Duration)
}

// StackRecord is the persisted form of a Stack.
type StackRecord struct {
	// ID is the unique identifier of the stack.
	ID string `json:"id"`

	// Name is the unique, user supplied stack name.
	Name string `json:"name"`

	// Template is the template the stack currently converges to.
	Template *Template `json:"template"`

	// Parameters are the user supplied parameter values.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Action is the current or last action of the stack.
	Action Action `json:"action"`

	// Status is the status of Action.
	Status Status `json:"status"`

	// StatusReason explains the status.
	StatusReason string `json:"status_reason,omitempty"`

	// Timeout is the per-operation timeout; zero means none.
	Timeout time.Duration `json:"timeout"`

	// DisableRollback turns off automatic rollback of failed creates and updates.
	DisableRollback bool `json:"disable_rollback"`

	// CreatedAt is when the stack row was first stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the stack row was last stored.
	UpdatedAt time.Time `json:"updated_at"`
}

// ResourceRecord is the persisted form of a Resource.
type ResourceRecord struct {
	// ID is the unique identifier of the row.
	ID string `json:"id"`

	// StackID is the owning stack.
	StackID string `json:"stack_id"`

	// Name is the logical resource name.
	Name string `json:"name"`

	// Type is the resource type.
	Type string `json:"type"`

	// Action is the current or last action of the resource.
	Action Action `json:"action"`

	// Status is the status of Action.
	Status Status `json:"status"`

	// StatusReason explains the status.
	StatusReason string `json:"status_reason,omitempty"`

	// PhysicalID is the identifier assigned by the external system.
	PhysicalID string `json:"physical_id,omitempty"`

	// Metadata is driver scratch data.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the row was first stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the row was last stored.
	UpdatedAt time.Time `json:"updated_at"`
}

// EventRecord is one entry of the resource event log.
type EventRecord struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// StackID is the stack the resource belongs to.
	StackID string `json:"stack_id"`

	// ResourceName is the logical name of the resource.
	ResourceName string `json:"resource_name"`

	// ResourceType is the type of the resource.
	ResourceType string `json:"resource_type"`

	// Action is the action after the transition.
	Action Action `json:"action"`

	// Status is the status after the transition.
	Status Status `json:"status"`

	// Reason explains the transition.
	Reason string `json:"reason,omitempty"`

	// PhysicalID is the physical id of the resource at the time of the event.
	PhysicalID string `json:"physical_id,omitempty"`

	// Properties is a snapshot of the resource's definition properties.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Timestamp is when the transition happened.
	Timestamp time.Time `json:"timestamp"`
}
