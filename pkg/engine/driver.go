package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Cookie is opaque data returned by a Handle hook and passed back to the
// matching Check hook.
type Cookie interface{}

// HandleFunc issues the one-shot part of an action against the external system.
type HandleFunc func(ctx context.Context, r *Resource) (Cookie, error)

// CheckFunc reports whether the action started by a HandleFunc has finished.
type CheckFunc func(ctx context.Context, r *Resource, cookie Cookie) (bool, error)

// UpdateFunc applies an in-place update. tmplDiff holds the changed top-level
// definition keys and propDiff the changed properties, both with their new values.
type UpdateFunc func(ctx context.Context, r *Resource, after ResourceDefinition, tmplDiff, propDiff map[string]interface{}) (Cookie, error)

// Driver is the capability surface of one resource type. Every hook is
// optional. A missing create or delete hook makes that phase a no-op; a
// missing suspend or resume hook rejects the action as not supported; a
// missing update hook means every change requires replacement.
type Driver struct {
	// Type is the resource type name used in templates, e.g. "Stackforge::Noop".
	Type string

	// Properties is the schema the resource's properties are validated against.
	Properties map[string]PropertySchema

	// Attributes lists the attribute names Fn::GetAtt may request, with descriptions.
	Attributes map[string]string

	// UpdateAllowedKeys are top-level definition keys that may change in place.
	UpdateAllowedKeys []string

	// UpdateAllowedProperties are property names that may change in place.
	UpdateAllowedProperties []string

	// Validate performs driver-specific validation beyond the property schema.
	Validate func(ctx context.Context, r *Resource) error

	HandleCreate        HandleFunc
	CheckCreateComplete CheckFunc

	HandleDelete        HandleFunc
	CheckDeleteComplete CheckFunc

	// HandleSnapshotDelete runs instead of HandleDelete under the Snapshot deletion policy.
	HandleSnapshotDelete HandleFunc

	HandleUpdate        UpdateFunc
	CheckUpdateComplete CheckFunc

	HandleSuspend        HandleFunc
	CheckSuspendComplete CheckFunc

	HandleResume        HandleFunc
	CheckResumeComplete CheckFunc

	// ResolveAttribute computes the value of a declared attribute from driver state.
	ResolveAttribute func(r *Resource, name string) (interface{}, error)
}

// hooks returns the handle and check hooks for a plain action.
func (d *Driver) hooks(action Action) (HandleFunc, CheckFunc) {
	switch action {
	case ActionCreate:
		return d.HandleCreate, d.CheckCreateComplete
	case ActionDelete:
		return d.HandleDelete, d.CheckDeleteComplete
	case ActionSuspend:
		return d.HandleSuspend, d.CheckSuspendComplete
	case ActionResume:
		return d.HandleResume, d.CheckResumeComplete
	default:
		return nil, nil
	}
}

// Supports reports whether the driver can carry out action.
func (d *Driver) Supports(action Action) bool {
	switch action {
	case ActionSuspend:
		return d.HandleSuspend != nil
	case ActionResume:
		return d.HandleResume != nil
	case ActionUpdate:
		return d.HandleUpdate != nil
	default:
		return true
	}
}

// Registry maps resource type names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]*Driver),
	}
}

// Register adds a driver. Registering the same type twice is an error.
func (r *Registry) Register(d *Driver) error {
	if d == nil || d.Type == "" {
		return NewValidationError("driver type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[d.Type]; exists {
		return NewPermanentError(fmt.Sprintf("driver already registered: %s", d.Type), nil).
			WithCode(ErrCodeAlreadyExists)
	}
	r.drivers[d.Type] = d
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(d *Driver) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the driver for a resource type.
func (r *Registry) Get(resourceType string) (*Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[resourceType]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown resource type: %s", resourceType))
	}
	return d, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.drivers))
	for t := range r.drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
