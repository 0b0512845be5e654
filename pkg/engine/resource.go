package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resource is one logical resource of a stack and its lifecycle state.
type Resource struct {
	// Name is the logical name from the template.
	Name string

	// Type is the resource type.
	Type string

	// PhysicalID is the identifier assigned by the external system, empty until created.
	PhysicalID string

	// Action is the current or last action.
	Action Action

	// Status is the status of Action.
	Status Status

	// StatusReason explains the status.
	StatusReason string

	// CreatedAt is when the resource row was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the resource row was last stored.
	UpdatedAt time.Time

	// id is the row id, empty until the resource was stored
	id string

	// raw is the definition as written in the template
	raw ResourceDefinition

	// definition is raw with parameters and mappings resolved
	definition ResourceDefinition

	// metadata is driver scratch data persisted with the row
	metadata map[string]interface{}

	driver *Driver
	stack  *Stack
}

// newResource builds a resource of stack from its template definition.
func newResource(name string, raw ResourceDefinition, stack *Stack) (*Resource, error) {
	driver, err := stack.registry.Get(raw.Type())
	if err != nil {
		return nil, err.(*EngineError).WithResource(name)
	}
	r := &Resource{
		Name:     name,
		Type:     raw.Type(),
		raw:      raw.Copy(),
		metadata: make(map[string]interface{}),
		driver:   driver,
		stack:    stack,
	}
	if r.definition, err = stack.resolveDefinition(r.raw); err != nil {
		return nil, err
	}
	return r, nil
}

// State returns the (action, status) pair of the resource.
func (r *Resource) State() State {
	return State{Action: r.Action, Status: r.Status}
}

// Definition returns a copy of the statically resolved definition.
func (r *Resource) Definition() ResourceDefinition {
	return r.definition.Copy()
}

// Driver returns the driver of the resource type.
func (r *Resource) Driver() *Driver {
	return r.driver
}

// Stack returns the stack the resource belongs to.
func (r *Resource) Stack() *Stack {
	return r.stack
}

// RefID is the value a Ref to this resource resolves to.
func (r *Resource) RefID() string {
	if r.PhysicalID != "" {
		return r.PhysicalID
	}
	return r.Name
}

// PhysicalName returns a name unique to this resource instance that drivers
// may use when the external system needs one.
func (r *Resource) PhysicalName() string {
	suffix := r.id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix == "" {
		return fmt.Sprintf("%s-%s", r.stack.Name, r.Name)
	}
	return fmt.Sprintf("%s-%s-%s", r.stack.Name, r.Name, suffix)
}

// Properties resolves the resource's properties against the live stack and
// validates them against the driver schema.
func (r *Resource) Properties() (map[string]interface{}, error) {
	return r.propertiesOf(r.definition)
}

func (r *Resource) propertiesOf(def ResourceDefinition) (map[string]interface{}, error) {
	resolved, err := resolveRuntime(def.Properties(), r.stack.resources)
	if err != nil {
		return nil, err
	}
	props, _ := resolved.(map[string]interface{})
	out, err := ResolveProperties(r.driver.Properties, props, false)
	if err != nil {
		return nil, err.(*EngineError).WithResource(r.Name)
	}
	return out, nil
}

// GetAtt returns the value of a declared attribute.
func (r *Resource) GetAtt(name string) (interface{}, error) {
	if _, ok := r.driver.Attributes[name]; !ok {
		return nil, invalidAttribute(r.Name, name)
	}
	if r.driver.ResolveAttribute == nil {
		return nil, nil
	}
	return r.driver.ResolveAttribute(r, name)
}

// Data returns a metadata value.
func (r *Resource) Data(key string) (interface{}, bool) {
	v, ok := r.metadata[key]
	return v, ok
}

// SetData stores a metadata value and persists it.
func (r *Resource) SetData(ctx context.Context, key string, value interface{}) {
	r.metadata[key] = value
	r.store(ctx)
}

// SetPhysicalID records the identifier assigned by the external system.
func (r *Resource) SetPhysicalID(ctx context.Context, id string) {
	r.PhysicalID = id
	r.store(ctx)
}

// Validate checks the definition without touching the external system.
func (r *Resource) Validate(ctx context.Context) error {
	if r.definition.DeletionPolicy() == DeletionPolicySnapshot && r.driver.HandleSnapshotDelete == nil {
		return NewValidationError(fmt.Sprintf("resource type %s does not support DeletionPolicy Snapshot", r.Type)).
			WithResource(r.Name)
	}
	if _, err := ResolveProperties(r.driver.Properties, r.definition.Properties(), true); err != nil {
		return err.(*EngineError).WithResource(r.Name)
	}
	if r.driver.Validate != nil {
		if err := r.driver.Validate(ctx, r); err != nil {
			return NewPermanentError(fmt.Sprintf("resource %s failed validation", r.Name), err).
				WithCode(ErrCodeValidation).
				WithResource(r.Name)
		}
	}
	return nil
}

// CreateTask returns the task that creates the resource.
func (r *Resource) CreateTask() Task {
	return &actionTask{
		r:      r,
		action: ActionCreate,
		prepare: func(ctx context.Context) (bool, error) {
			if !r.State().IsInitial() {
				return false, NewInvalidStateError("create", r.State()).WithResource(r.Name)
			}
			def, err := r.stack.resolveDefinition(r.raw)
			if err != nil {
				return false, err
			}
			r.definition = def
			return false, nil
		},
		validate: func(ctx context.Context) error {
			_, err := r.Properties()
			return err
		},
		handle: r.driver.HandleCreate,
		check:  r.driver.CheckCreateComplete,
	}
}

// DeleteTask returns the task that deletes the resource according to its
// deletion policy. Deleting a resource that was never created or is already
// deleted does nothing.
func (r *Resource) DeleteTask() Task {
	policy := r.definition.DeletionPolicy()
	t := &actionTask{
		r:      r,
		action: ActionDelete,
		prepare: func(ctx context.Context) (bool, error) {
			st := r.State()
			return st.Action == ActionNone || st.Is(ActionDelete, StatusComplete), nil
		},
	}
	switch policy {
	case DeletionPolicyRetain:
	case DeletionPolicySnapshot:
		t.handle = r.driver.HandleSnapshotDelete
		t.check = r.driver.CheckDeleteComplete
	default:
		t.handle = r.driver.HandleDelete
		t.check = r.driver.CheckDeleteComplete
	}
	t.complete = func(ctx context.Context) {
		if policy != DeletionPolicyRetain && r.PhysicalID != "" {
			r.SetPhysicalID(ctx, "")
		}
	}
	return t
}

// DestroyTask deletes the resource and then its persisted row.
func (r *Resource) DestroyTask() Task {
	return Sequence(r.DeleteTask(), NewTask(func(ctx context.Context) (bool, error) {
		r.removeRecord(ctx)
		return true, nil
	}, nil))
}

// SuspendTask returns the task that suspends the resource.
func (r *Resource) SuspendTask() Task {
	return r.pauseTask(ActionSuspend, func(st State) bool {
		return (st.Action == ActionCreate || st.Action == ActionUpdate) && st.Status == StatusComplete
	})
}

// ResumeTask returns the task that resumes a suspended resource.
func (r *Resource) ResumeTask() Task {
	return r.pauseTask(ActionResume, func(st State) bool {
		return st.Is(ActionSuspend, StatusComplete)
	})
}

func (r *Resource) pauseTask(action Action, legal func(State) bool) Task {
	handle, check := r.driver.hooks(action)
	return &actionTask{
		r:      r,
		action: action,
		prepare: func(ctx context.Context) (bool, error) {
			if !legal(r.State()) {
				return false, NewInvalidStateError(strings.ToLower(string(action)), r.State()).WithResource(r.Name)
			}
			if !r.driver.Supports(action) {
				return false, NewPermanentError(
					fmt.Sprintf("resource type %s does not support %s", r.Type, strings.ToLower(string(action))), nil,
				).WithCode(ErrCodeNotSupported).WithResource(r.Name)
			}
			return false, nil
		},
		handle: handle,
		check:  check,
	}
}

// UpdateTask returns the task that updates the resource in place to after,
// a statically resolved definition. The task fails with *UpdateReplace,
// without changing any state, when the change cannot be applied in place.
func (r *Resource) UpdateTask(after ResourceDefinition) Task {
	var tmplDiff, propDiff map[string]interface{}
	t := &actionTask{
		r:      r,
		action: ActionUpdate,
	}
	t.prepare = func(ctx context.Context) (bool, error) {
		st := r.State()
		if (st.Action == ActionCreate || st.Action == ActionUpdate) && st.Status == StatusInProgress {
			return false, NewInvalidStateError("update", st).WithResource(r.Name)
		}
		if reflect.DeepEqual(r.definition, after) {
			return true, nil
		}
		var err error
		if tmplDiff, err = r.templateDiff(after); err != nil {
			return false, err
		}
		if propDiff, err = r.propertyDiff(after); err != nil {
			return false, err
		}
		if r.driver.HandleUpdate == nil {
			return false, &UpdateReplace{Resource: r.Name}
		}
		return false, nil
	}
	t.handle = func(ctx context.Context, _ *Resource) (Cookie, error) {
		props, err := r.propertiesOf(after)
		if err != nil {
			return nil, err
		}
		for key := range propDiff {
			propDiff[key] = props[key]
		}
		return r.driver.HandleUpdate(ctx, r, after, tmplDiff, propDiff)
	}
	t.check = r.driver.CheckUpdateComplete
	t.complete = func(ctx context.Context) {
		r.raw = after.Copy()
		r.definition = after.Copy()
	}
	return t
}

// templateDiff returns the changed top-level keys other than Properties.
func (r *Resource) templateDiff(after ResourceDefinition) (map[string]interface{}, error) {
	if after.Type() != r.definition.Type() {
		return nil, &UpdateReplace{Resource: r.Name}
	}
	diff := changedKeys(r.definition, after, KeyProperties)
	for key := range diff {
		if !contains(r.driver.UpdateAllowedKeys, key) {
			return nil, &UpdateReplace{Resource: r.Name}
		}
	}
	return diff, nil
}

// propertyDiff returns the changed property keys.
func (r *Resource) propertyDiff(after ResourceDefinition) (map[string]interface{}, error) {
	diff := changedKeys(r.definition.Properties(), after.Properties(), "")
	for key := range diff {
		if !contains(r.driver.UpdateAllowedProperties, key) {
			return nil, &UpdateReplace{Resource: r.Name}
		}
	}
	return diff, nil
}

// resetState returns the resource to its initial state so it can be created again.
func (r *Resource) resetState() {
	r.Action = ActionNone
	r.Status = StatusNone
	r.StatusReason = ""
	r.PhysicalID = ""
	r.metadata = make(map[string]interface{})
}

// setState records a transition, persists the resource and appends an event
// when the (action, status) pair changed.
func (r *Resource) setState(ctx context.Context, action Action, status Status, reason string) {
	old := r.State()
	r.Action = action
	r.Status = status
	r.StatusReason = reason
	r.store(ctx)

	if old != r.State() {
		r.addEvent(ctx)
	}

	r.stack.logger.Debug().
		Str("resource", r.Name).
		Str("state", r.State().String()).
		Str("reason", reason).
		Msg("Resource state changed")
}

// store creates the row on the first transition to CREATE IN_PROGRESS and
// updates it afterwards. Database errors are logged, not returned.
func (r *Resource) store(ctx context.Context) {
	repo := r.stack.repo
	if repo == nil || r.stack.ID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	r.UpdatedAt = now

	if r.id == "" {
		if !r.State().Is(ActionCreate, StatusInProgress) {
			return
		}
		r.id = uuid.New().String()
		r.CreatedAt = now
		if err := repo.CreateResource(ctx, r.record()); err != nil {
			r.stack.logger.Error().Err(err).Str("resource", r.Name).Msg("Failed to store resource")
			r.id = ""
		}
		return
	}
	if err := repo.UpdateResource(ctx, r.record()); err != nil {
		r.stack.logger.Error().Err(err).Str("resource", r.Name).Msg("Failed to update resource")
	}
}

func (r *Resource) removeRecord(ctx context.Context) {
	if r.id == "" || r.stack.repo == nil {
		r.id = ""
		return
	}
	if err := r.stack.repo.DeleteResource(context.WithoutCancel(ctx), r.id); err != nil {
		r.stack.logger.Error().Err(err).Str("resource", r.Name).Msg("Failed to delete resource record")
	}
	r.id = ""
}

func (r *Resource) addEvent(ctx context.Context) {
	repo := r.stack.repo
	if repo == nil || r.stack.ID == "" {
		return
	}
	event := &EventRecord{
		ID:           uuid.New().String(),
		StackID:      r.stack.ID,
		ResourceName: r.Name,
		ResourceType: r.Type,
		Action:       r.Action,
		Status:       r.Status,
		Reason:       r.StatusReason,
		PhysicalID:   r.PhysicalID,
		Properties:   r.definition.Copy().Properties(),
		Timestamp:    time.Now().UTC(),
	}
	if err := repo.AddEvent(context.WithoutCancel(ctx), event); err != nil {
		r.stack.logger.Error().Err(err).Str("resource", r.Name).Msg("Failed to add event")
	}
}

func (r *Resource) record() *ResourceRecord {
	metadata := make(map[string]interface{}, len(r.metadata))
	for k, v := range r.metadata {
		metadata[k] = v
	}
	return &ResourceRecord{
		ID:           r.id,
		StackID:      r.stack.ID,
		Name:         r.Name,
		Type:         r.Type,
		Action:       r.Action,
		Status:       r.Status,
		StatusReason: r.StatusReason,
		PhysicalID:   r.PhysicalID,
		Metadata:     metadata,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// loadRecord restores persisted state onto a freshly built resource.
func (r *Resource) loadRecord(rec *ResourceRecord) {
	r.id = rec.ID
	r.PhysicalID = rec.PhysicalID
	r.Action = rec.Action
	r.Status = rec.Status
	r.StatusReason = rec.StatusReason
	r.CreatedAt = rec.CreatedAt
	r.UpdatedAt = rec.UpdatedAt
	r.metadata = make(map[string]interface{}, len(rec.Metadata))
	for k, v := range rec.Metadata {
		r.metadata[k] = v
	}
}

type taskPhase int

const (
	phasePending taskPhase = iota
	phaseRunning
	phaseDone
)

// actionTask is the generic action routine: check the starting state, move
// to IN_PROGRESS, validate, call the one-shot hook, then poll the completion
// hook until it reports done.
type actionTask struct {
	r      *Resource
	action Action

	// prepare runs before any state change; skip finishes the task untouched
	prepare func(ctx context.Context) (skip bool, err error)

	// validate runs right after the transition to IN_PROGRESS
	validate func(ctx context.Context) error

	handle   HandleFunc
	check    CheckFunc
	complete func(ctx context.Context)

	phase   taskPhase
	cookie  Cookie
	started time.Time
}

// Step implements Task.
func (t *actionTask) Step(ctx context.Context) (bool, error) {
	switch t.phase {
	case phaseDone:
		return true, nil

	case phasePending:
		if t.prepare != nil {
			skip, err := t.prepare(ctx)
			if err != nil {
				t.phase = phaseDone
				if IsUpdateReplace(err) {
					return true, err
				}
				return true, NewResourceFailure(t.r.Name, t.action, err)
			}
			if skip {
				t.phase = phaseDone
				return true, nil
			}
		}

		t.started = time.Now()
		t.phase = phaseRunning
		t.r.setState(ctx, t.action, StatusInProgress, "state changed")

		if t.validate != nil {
			if err := t.validate(ctx); err != nil {
				return true, t.fail(ctx, err)
			}
		}
		if t.handle != nil {
			cookie, err := t.handle(ctx, t.r)
			if IsUpdateReplace(err) {
				t.phase = phaseDone
				return true, err
			}
			if err != nil {
				return true, t.fail(ctx, err)
			}
			t.cookie = cookie
			return false, nil
		}
		if t.check != nil {
			return false, nil
		}
		return t.succeed(ctx)

	default:
		if t.check == nil {
			return t.succeed(ctx)
		}
		done, err := t.check(ctx, t.r, t.cookie)
		if err != nil {
			return true, t.fail(ctx, err)
		}
		if !done {
			return false, nil
		}
		return t.succeed(ctx)
	}
}

// Cancel implements Task. An action cancelled while in progress is recorded as failed.
func (t *actionTask) Cancel() {
	if t.phase != phaseRunning {
		t.phase = phaseDone
		return
	}
	t.phase = phaseDone
	t.r.setState(context.Background(), t.action, StatusFailed, fmt.Sprintf("%s cancelled", t.action.Title()))
	t.observe(StatusFailed)
}

func (t *actionTask) succeed(ctx context.Context) (bool, error) {
	t.phase = phaseDone
	if t.complete != nil {
		t.complete(ctx)
	}
	t.r.setState(ctx, t.action, StatusComplete, "state changed")
	t.observe(StatusComplete)
	return true, nil
}

func (t *actionTask) fail(ctx context.Context, err error) error {
	t.phase = phaseDone
	failure := NewResourceFailure(t.r.Name, t.action, err)
	t.r.setState(ctx, t.action, StatusFailed, err.Error())
	t.observe(StatusFailed)
	return failure
}

func (t *actionTask) observe(status Status) {
	if obs := t.r.stack.observer; obs != nil {
		obs.ResourceActionFinished(t.r.Type, t.action, status, time.Since(t.started))
	}
}

// changedKeys returns the keys whose values differ between before and
// after, mapped to their new values. skip names a key to ignore.
func changedKeys(before, after map[string]interface{}, skip string) map[string]interface{} {
	keys := make(map[string]bool)
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	diff := make(map[string]interface{})
	for k := range keys {
		if k == skip {
			continue
		}
		if !reflect.DeepEqual(before[k], after[k]) {
			diff[k] = after[k]
		}
	}
	return diff
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
