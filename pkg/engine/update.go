package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// Update converges the stack onto a new template and parameters. Resources
// only in the new template are created, changed resources are updated in
// place or replaced, and resources only in the old template are deleted
// after everything else reached its new state. A failed update is rolled
// back to the previous template unless rollback is disabled.
func (s *Stack) Update(ctx context.Context, tmpl *Template, params map[string]string) error {
	newStack, err := NewStack(s.Name, tmpl, s.options(params))
	if err != nil {
		return err
	}
	if err := newStack.Validate(ctx); err != nil {
		return err
	}
	return s.update(ctx, newStack, ActionUpdate)
}

func (s *Stack) update(ctx context.Context, newStack *Stack, action Action) error {
	if action != ActionUpdate && action != ActionRollback {
		return NewPermanentError(fmt.Sprintf("invalid update action %s", action), nil).
			WithCode(ErrCodeInternal)
	}
	if s.Status != StatusComplete && !(action == ActionRollback && s.State().Is(ActionUpdate, StatusInProgress)) {
		state := s.State()
		s.setState(ctx, action, StatusFailed, fmt.Sprintf("State invalid for %s", action))
		return NewInvalidStateError(string(action), state).WithResource(s.Name)
	}

	s.setState(ctx, action, StatusInProgress, fmt.Sprintf("Stack %s started", action))

	oldTemplate := s.Template
	oldParams := s.params.Given()

	updater := newStackUpdater(s, newStack)
	runner := NewTaskRunner(fmt.Sprintf("Stack %s %s", s.Name, action), updater, s.runnerOpts...)
	err := runner.Run(ctx, s.wait, s.Timeout)
	s.graph = s.currentGraph()

	status := StatusComplete
	reason := "Stack successfully updated"
	if action == ActionRollback {
		reason = "Stack rollback completed"
	}

	if err != nil {
		status = StatusFailed
		switch {
		case IsTimeout(err):
			reason = "Timed out"
		case IsResourceFailure(err):
			reason = err.Error()
			if action == ActionUpdate && !s.DisableRollback {
				s.logger.Info().Err(err).Msg("Update failed, rolling back")
				oldStack, buildErr := NewStack(s.Name, oldTemplate, s.options(oldParams))
				if buildErr != nil {
					s.logger.Error().Err(buildErr).Msg("Failed to rebuild previous template for rollback")
				} else {
					if rbErr := s.update(ctx, oldStack, ActionRollback); rbErr != nil {
						s.logger.Error().Err(rbErr).Msg("Rollback failed")
					}
					return err
				}
			}
		default:
			reason = failureReason(action, err)
		}
	}

	s.setState(ctx, action, status, reason)

	s.Template = newStack.Template
	s.params = newStack.params
	if s.ID != "" {
		s.params.SetStackID(s.ID)
		if storeErr := s.Store(ctx); storeErr != nil {
			s.logger.Error().Err(storeErr).Msg("Failed to store updated template")
		}
	}
	return err
}

// updatePhase is the progress of a stackUpdater.
type updatePhase int

const (
	updateConverge updatePhase = iota
	updateCleanup
	updateDone
)

// stackUpdater is the task that converges an existing stack onto a new one.
// It first creates, updates or replaces every resource of the new template,
// then deletes the resources the new template no longer has.
type stackUpdater struct {
	existing *Stack
	target   *Stack

	// oldGraph is the graph of the existing stack before the update started
	oldGraph *Graph

	phase updatePhase
	group Task
}

func newStackUpdater(existing, newStack *Stack) *stackUpdater {
	return &stackUpdater{
		existing: existing,
		target:   newStack,
		oldGraph: existing.graph.Subset(existing.graph.Nodes()),
	}
}

// Step implements Task.
func (u *stackUpdater) Step(ctx context.Context) (bool, error) {
	for {
		switch u.phase {
		case updateDone:
			return true, nil

		case updateConverge:
			if u.group == nil {
				group, err := NewDependencyTaskGroup("update", u.convergeGraph(), u.convergeTask, false)
				if err != nil {
					u.phase = updateDone
					return true, err
				}
				u.group = group
			}

		case updateCleanup:
			if u.group == nil {
				group, err := NewDependencyTaskGroup("cleanup", u.oldGraph.Subset(u.removed()), u.cleanupTask, true)
				if err != nil {
					u.phase = updateDone
					return true, err
				}
				u.group = group
			}
		}

		done, err := u.group.Step(ctx)
		if err != nil {
			u.phase = updateDone
			return true, err
		}
		if !done {
			return false, nil
		}
		u.group = nil
		u.phase++
	}
}

// Cancel implements Task.
func (u *stackUpdater) Cancel() {
	if u.group != nil {
		u.group.Cancel()
	}
	u.phase = updateDone
}

// convergeGraph orders the new resources by the new graph, adding the old
// edges between resources both templates share. If the combination is not
// acyclic the new graph alone is used.
func (u *stackUpdater) convergeGraph() *Graph {
	merged := u.target.graph.Merge(u.oldGraph)
	if err := merged.Validate(); err != nil {
		return u.target.graph
	}
	return merged
}

// removed returns the resources of the existing stack the new template drops.
func (u *stackUpdater) removed() []string {
	var names []string
	for name := range u.existing.resources {
		if _, ok := u.target.resources[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// convergeTask decides, when first stepped, how the resource named name
// reaches its new definition.
func (u *stackUpdater) convergeTask(name string) Task {
	return &resourceUpdate{u: u, name: name}
}

func (u *stackUpdater) cleanupTask(name string) Task {
	r := u.existing.resources[name]
	return Sequence(r.DestroyTask(), NewTask(func(context.Context) (bool, error) {
		delete(u.existing.resources, name)
		return true, nil
	}, nil))
}

// adopt rebinds a resource of the new stack to the existing stack so its
// references resolve against live resources.
func (u *stackUpdater) adopt(name string) *Resource {
	src := u.target.resources[name]
	r := &Resource{
		Name:       src.Name,
		Type:       src.Type,
		raw:        src.raw.Copy(),
		definition: src.definition.Copy(),
		metadata:   make(map[string]interface{}),
		driver:     src.driver,
		stack:      u.existing,
	}
	return r
}

// resourceUpdate converges one resource: create, skip, update in place, or
// replace when the in-place update is refused.
type resourceUpdate struct {
	u         *stackUpdater
	name      string
	inner     Task
	replacing bool
}

// Step implements Task.
func (t *resourceUpdate) Step(ctx context.Context) (bool, error) {
	if t.inner == nil {
		t.inner = t.plan()
	}
	done, err := t.inner.Step(ctx)
	if err != nil && IsUpdateReplace(err) && !t.replacing {
		t.replacing = true
		t.inner = t.replace(t.u.existing.resources[t.name])
		return false, nil
	}
	return done, err
}

// Cancel implements Task.
func (t *resourceUpdate) Cancel() {
	if t.inner != nil {
		t.inner.Cancel()
	}
}

func (t *resourceUpdate) plan() Task {
	u := t.u
	after := u.target.resources[t.name]
	old, exists := u.existing.resources[t.name]

	switch {
	case !exists || old.State().IsInitial():
		r := u.adopt(t.name)
		u.existing.resources[t.name] = r
		return r.CreateTask()

	case old.Status == StatusFailed || old.Action == ActionDelete:
		t.replacing = true
		return t.replace(old)

	case reflect.DeepEqual(old.definition, after.definition):
		return NewTask(func(context.Context) (bool, error) { return true, nil }, nil)

	default:
		return old.UpdateTask(after.definition.Copy())
	}
}

// replace destroys old and creates a fresh resource under the same name.
func (t *resourceUpdate) replace(old *Resource) Task {
	u := t.u
	r := u.adopt(t.name)
	return Sequence(
		old.DestroyTask(),
		NewTask(func(context.Context) (bool, error) {
			u.existing.resources[t.name] = r
			return true, nil
		}, nil),
		r.CreateTask(),
	)
}
