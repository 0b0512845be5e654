package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the wait between scheduler steps.
const DefaultPollInterval = time.Second

// StackOptions configures a Stack.
type StackOptions struct {
	// ID is the stack id; empty for a stack that has not been stored yet.
	ID string

	// Parameters are the user supplied parameter values.
	Parameters map[string]string

	// Region is reported through the AWS::Region pseudo parameter.
	Region string

	// Timeout bounds every stack operation; zero means no timeout.
	Timeout time.Duration

	// DisableRollback turns off automatic rollback.
	DisableRollback bool

	// Repository persists the stack; nil keeps the stack in memory only.
	Repository Repository

	// Registry resolves resource types to drivers.
	Registry *Registry

	// Logger receives lifecycle logs.
	Logger zerolog.Logger

	// Observer is notified about finished resource actions.
	Observer Observer

	// PollInterval is the wait between scheduler steps.
	PollInterval time.Duration

	// RunnerOptions are passed to every TaskRunner the stack creates.
	RunnerOptions []RunnerOption
}

// Stack is a named collection of resources built from one template, and the
// orchestrator of their lifecycle.
type Stack struct {
	// ID is the stack id, empty until stored.
	ID string

	// Name is the unique stack name.
	Name string

	// Template is the template the stack converges to.
	Template *Template

	// Action is the current or last stack action.
	Action Action

	// Status is the status of Action.
	Status Status

	// StatusReason explains the status.
	StatusReason string

	// Timeout bounds every operation; zero means none.
	Timeout time.Duration

	// DisableRollback turns off automatic rollback.
	DisableRollback bool

	// CreatedAt is when the stack was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the stack was last stored.
	UpdatedAt time.Time

	params    *Parameters
	resources map[string]*Resource
	graph     *Graph

	region     string
	repo       Repository
	registry   *Registry
	logger     zerolog.Logger
	observer   Observer
	wait       time.Duration
	runnerOpts []RunnerOption
}

// NewStack builds a stack from a template. It resolves parameters, builds
// every resource and the dependency graph, and fails with a validation error
// on unknown types, invalid references or cycles.
func NewStack(name string, tmpl *Template, opts StackOptions) (*Stack, error) {
	if err := ValidateStackName(name); err != nil {
		return nil, err
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		return nil, NewValidationError("a driver registry is required")
	}

	params, err := NewParameters(name, opts.ID, opts.Region, tmpl, opts.Parameters)
	if err != nil {
		return nil, err
	}

	wait := opts.PollInterval
	if wait <= 0 {
		wait = DefaultPollInterval
	}

	s := &Stack{
		ID:              opts.ID,
		Name:            name,
		Template:        tmpl,
		Timeout:         opts.Timeout,
		DisableRollback: opts.DisableRollback,
		params:          params,
		resources:       make(map[string]*Resource, len(tmpl.Resources)),
		region:          opts.Region,
		repo:            opts.Repository,
		registry:        opts.Registry,
		logger:          opts.Logger.With().Str("stack", name).Logger(),
		observer:        opts.Observer,
		wait:            wait,
		runnerOpts:      opts.RunnerOptions,
	}

	for _, resName := range tmpl.ResourceNames() {
		r, err := newResource(resName, tmpl.Resources[resName], s)
		if err != nil {
			return nil, err
		}
		s.resources[resName] = r
	}

	if s.graph, err = s.buildGraph(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadStack restores a stored stack by id or name.
func LoadStack(ctx context.Context, ref string, opts StackOptions) (*Stack, error) {
	if opts.Repository == nil {
		return nil, NewValidationError("a repository is required to load a stack")
	}

	rec, err := opts.Repository.GetStack(ctx, ref)
	if err != nil {
		if !IsNotFound(err) {
			return nil, fmt.Errorf("failed to load stack %s: %w", ref, err)
		}
		if rec, err = opts.Repository.GetStackByName(ctx, ref); err != nil {
			return nil, err
		}
	}

	opts.ID = rec.ID
	opts.Parameters = rec.Parameters
	opts.Timeout = rec.Timeout
	opts.DisableRollback = rec.DisableRollback

	s, err := NewStack(rec.Name, rec.Template, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild stack %s: %w", rec.Name, err)
	}
	s.Action = rec.Action
	s.Status = rec.Status
	s.StatusReason = rec.StatusReason
	s.CreatedAt = rec.CreatedAt
	s.UpdatedAt = rec.UpdatedAt

	records, err := opts.Repository.ListResources(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources of stack %s: %w", rec.Name, err)
	}
	for _, rr := range records {
		r, ok := s.resources[rr.Name]
		if !ok || r.Type != rr.Type {
			// A resource left behind by a failed update, kept so a delete can still reach it.
			r, err = newResource(rr.Name, ResourceDefinition{KeyType: rr.Type}, s)
			if err != nil {
				s.logger.Warn().Err(err).Str("resource", rr.Name).Msg("Ignoring stored resource of unknown type")
				continue
			}
			s.resources[rr.Name] = r
		}
		r.loadRecord(rr)
	}
	if s.graph, err = s.buildGraph(); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns the (action, status) pair of the stack.
func (s *Stack) State() State {
	return State{Action: s.Action, Status: s.Status}
}

// Resource returns a resource by logical name.
func (s *Stack) Resource(name string) (*Resource, bool) {
	r, ok := s.resources[name]
	return r, ok
}

// Resources returns the resources in dependency order.
func (s *Stack) Resources() []*Resource {
	order, err := s.graph.TopologicalOrder()
	if err != nil {
		order = s.graph.Nodes()
	}
	out := make([]*Resource, 0, len(order))
	for _, name := range order {
		if r, ok := s.resources[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Graph returns the dependency graph of the stack's resources.
func (s *Stack) Graph() *Graph {
	return s.graph
}

// Parameters returns the resolved parameters.
func (s *Stack) Parameters() *Parameters {
	return s.params
}

// Validate checks every resource without touching the external system.
func (s *Stack) Validate(ctx context.Context) error {
	for _, r := range s.Resources() {
		if err := r.Validate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Store creates or updates the stack row. A new stack is assigned an id.
func (s *Stack) Store(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	s.UpdatedAt = now

	if s.ID == "" {
		s.ID = uuid.New().String()
		s.CreatedAt = now
		s.params.SetStackID(s.ID)
		if err := s.repo.CreateStack(ctx, s.record()); err != nil {
			s.ID = ""
			return fmt.Errorf("failed to store stack %s: %w", s.Name, err)
		}
		return nil
	}
	if err := s.repo.UpdateStack(ctx, s.record()); err != nil {
		return fmt.Errorf("failed to update stack %s: %w", s.Name, err)
	}
	return nil
}

// Create creates every resource in dependency order. If the create fails
// and rollback is enabled the partially created stack is deleted again with
// the ROLLBACK action. The create error is returned either way.
func (s *Stack) Create(ctx context.Context) error {
	if !s.State().IsInitial() {
		return NewInvalidStateError("create", s.State()).WithResource(s.Name)
	}

	err := s.runAction(ctx, ActionCreate, false, func(name string) Task {
		return s.resources[name].CreateTask()
	})
	if err != nil && !s.DisableRollback && s.State().Is(ActionCreate, StatusFailed) {
		s.logger.Info().Msg("Rolling back failed create")
		if rbErr := s.delete(ctx, ActionRollback); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
	}
	return err
}

// Delete deletes every resource in reverse dependency order. On success the
// stack row is removed. Delete may be repeated after a failure.
func (s *Stack) Delete(ctx context.Context) error {
	return s.delete(ctx, ActionDelete)
}

func (s *Stack) delete(ctx context.Context, action Action) error {
	if action != ActionDelete && action != ActionRollback {
		s.setState(ctx, ActionDelete, StatusFailed, fmt.Sprintf("Invalid action %s", action))
		return NewPermanentError(fmt.Sprintf("invalid delete action %s", action), nil).
			WithCode(ErrCodeInternal)
	}

	s.setState(ctx, action, StatusInProgress, fmt.Sprintf("Stack %s started", action))

	err := s.runGraph(ctx, string(action), s.graph, true, func(name string) Task {
		r := s.resources[name]
		return Sequence(r.DestroyTask(), NewTask(func(context.Context) (bool, error) {
			delete(s.resources, name)
			return true, nil
		}, nil))
	})
	s.graph = s.currentGraph()

	if err != nil {
		var failed []string
		for _, r := range s.Resources() {
			if r.Status == StatusFailed {
				failed = append(failed, r.Name)
			}
		}
		reason := fmt.Sprintf("Failed to %s : %s", strings.ToLower(string(action)), strings.Join(failed, ", "))
		if IsTimeout(err) {
			reason = fmt.Sprintf("%s timed out", action.Title())
		} else if len(failed) == 0 {
			reason = fmt.Sprintf("Failed to %s : %v", strings.ToLower(string(action)), err)
		}
		s.setState(ctx, action, StatusFailed, reason)
		return err
	}

	s.setState(ctx, action, StatusComplete, fmt.Sprintf("%s completed", action.Title()))
	if action == ActionDelete && s.repo != nil && s.ID != "" {
		if derr := s.repo.DeleteStack(context.WithoutCancel(ctx), s.ID); derr != nil {
			return fmt.Errorf("failed to delete stack %s: %w", s.Name, derr)
		}
		s.ID = ""
	}
	return nil
}

// Suspend suspends every resource in reverse dependency order.
func (s *Stack) Suspend(ctx context.Context) error {
	if s.Status != StatusComplete || s.Action == ActionDelete || s.Action == ActionSuspend {
		return NewInvalidStateError("suspend", s.State()).WithResource(s.Name)
	}
	return s.runAction(ctx, ActionSuspend, true, func(name string) Task {
		return s.resources[name].SuspendTask()
	})
}

// Resume resumes every resource of a suspended stack in dependency order.
func (s *Stack) Resume(ctx context.Context) error {
	if !s.State().Is(ActionSuspend, StatusComplete) {
		return NewInvalidStateError("resume", s.State()).WithResource(s.Name)
	}
	return s.runAction(ctx, ActionResume, false, func(name string) Task {
		return s.resources[name].ResumeTask()
	})
}

// RestartResource destroys the named resource and everything depending on
// it, then creates them again. If any destroy fails the remaining resources
// are marked failed without being created.
func (s *Stack) RestartResource(ctx context.Context, name string) error {
	if _, ok := s.resources[name]; !ok {
		return NewNotFoundError("resource", name)
	}
	sub := s.graph.Subgraph(name)
	reverse, err := sub.ReverseOrder()
	if err != nil {
		return err
	}
	forward, err := sub.TopologicalOrder()
	if err != nil {
		return err
	}

	var failure error
	for _, resName := range reverse {
		r := s.resources[resName]
		runner := NewTaskRunner(fmt.Sprintf("destroy %s", resName), r.DestroyTask(), s.runnerOpts...)
		if err := runner.Run(ctx, s.wait, s.Timeout); err != nil {
			s.logger.Error().Err(err).Str("resource", resName).Msg("Restart failed to delete resource")
			if failure == nil {
				failure = err
			}
		}
	}

	for _, resName := range forward {
		r := s.resources[resName]
		if failure != nil {
			r.setState(ctx, ActionCreate, StatusFailed, "Resource restart aborted")
			continue
		}
		r.resetState()
		runner := NewTaskRunner(fmt.Sprintf("create %s", resName), r.CreateTask(), s.runnerOpts...)
		if err := runner.Run(ctx, s.wait, s.Timeout); err != nil {
			s.logger.Error().Err(err).Str("resource", resName).Msg("Restart failed to create resource")
			failure = err
		}
	}
	return failure
}

// Output resolves one entry of the template's Outputs section.
func (s *Stack) Output(key string) (interface{}, error) {
	out, ok := s.Template.Outputs[key]
	if !ok {
		return nil, NewNotFoundError("output", key)
	}
	value, err := resolveStatic(out.Value, s.params, s.Template.Mappings)
	if err != nil {
		return nil, err
	}
	return resolveRuntime(value, s.resources)
}

// Outputs resolves every output. Outputs that fail to resolve are reported
// with a nil value.
func (s *Stack) Outputs() map[string]interface{} {
	outputs := make(map[string]interface{}, len(s.Template.Outputs))
	for key := range s.Template.Outputs {
		value, err := s.Output(key)
		if err != nil {
			s.logger.Debug().Err(err).Str("output", key).Msg("Output not resolvable")
		}
		outputs[key] = value
	}
	return outputs
}

// runAction is the common shape of create, suspend and resume: move the
// stack to IN_PROGRESS, drive one task per resource over the graph and record
// the outcome.
func (s *Stack) runAction(ctx context.Context, action Action, reverse bool, factory TaskFactory) error {
	s.setState(ctx, action, StatusInProgress, fmt.Sprintf("Stack %s started", action))

	err := s.runGraph(ctx, string(action), s.graph, reverse, factory)

	status := StatusComplete
	reason := fmt.Sprintf("Stack %s completed successfully", strings.ToLower(string(action)))
	if err != nil {
		status = StatusFailed
		reason = failureReason(action, err)
	}
	s.setState(ctx, action, status, reason)
	return err
}

// runGraph drives a DependencyTaskGroup over graph under the stack timeout.
func (s *Stack) runGraph(ctx context.Context, name string, graph *Graph, reverse bool, factory TaskFactory) error {
	group, err := NewDependencyTaskGroup(name, graph, factory, reverse)
	if err != nil {
		return err
	}
	runner := NewTaskRunner(fmt.Sprintf("Stack %s %s", s.Name, name), group, s.runnerOpts...)
	return runner.Run(ctx, s.wait, s.Timeout)
}

// failureReason renders the reason of a failed stack action.
func failureReason(action Action, err error) string {
	switch {
	case IsTimeout(err):
		return fmt.Sprintf("%s timed out", action.Title())
	case IsResourceFailure(err):
		return fmt.Sprintf("Resource %s failed: %v", strings.ToLower(string(action)), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s cancelled", action.Title())
	default:
		return err.Error()
	}
}

// setState records a stack transition and persists it.
func (s *Stack) setState(ctx context.Context, action Action, status Status, reason string) {
	s.Action = action
	s.Status = status
	s.StatusReason = reason

	s.logger.Info().
		Str("state", s.State().String()).
		Str("reason", reason).
		Msg("Stack state changed")

	if s.ID == "" {
		return
	}
	if err := s.Store(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist stack state")
	}
}

// resolveDefinition applies parameters and mappings to a raw definition.
func (s *Stack) resolveDefinition(raw ResourceDefinition) (ResourceDefinition, error) {
	resolved, err := resolveStatic(raw, s.params, s.Template.Mappings)
	if err != nil {
		return nil, err
	}
	return ResourceDefinition(resolved.(map[string]interface{})), nil
}

// buildGraph derives the dependency graph of the current resources.
func (s *Stack) buildGraph() (*Graph, error) {
	g := NewGraph()
	names := make([]string, 0, len(s.resources))
	for name := range s.resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		g.AddNode(name)
	}
	for _, name := range names {
		deps, err := dependencies(s.resources[name].definition, s.resources)
		if err != nil {
			var ee *EngineError
			if errors.As(err, &ee) && ee.Resource == "" {
				ee.Resource = name
			}
			return nil, err
		}
		for _, dep := range deps {
			g.AddEdge(name, dep)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// currentGraph rebuilds the graph after resources were added or removed,
// keeping the previous graph if the rebuild fails.
func (s *Stack) currentGraph() *Graph {
	g, err := s.buildGraph()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to rebuild dependency graph")
		return s.graph.Subset(s.graph.Nodes())
	}
	return g
}

func (s *Stack) record() *StackRecord {
	return &StackRecord{
		ID:              s.ID,
		Name:            s.Name,
		Template:        s.Template,
		Parameters:      s.params.Given(),
		Action:          s.Action,
		Status:          s.Status,
		StatusReason:    s.StatusReason,
		Timeout:         s.Timeout,
		DisableRollback: s.DisableRollback,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// options returns options building a sibling stack sharing this stack's
// identity and collaborators.
func (s *Stack) options(params map[string]string) StackOptions {
	return StackOptions{
		ID:              s.ID,
		Parameters:      params,
		Region:          s.region,
		Timeout:         s.Timeout,
		DisableRollback: s.DisableRollback,
		Repository:      s.repo,
		Registry:        s.registry,
		Logger:          s.logger,
		Observer:        s.observer,
		PollInterval:    s.wait,
		RunnerOptions:   s.runnerOpts,
	}
}
