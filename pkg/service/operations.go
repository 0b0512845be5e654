package service

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// CreateRequest describes a new stack.
type CreateRequest struct {
	Name       string
	Template   *engine.Template
	Parameters map[string]string

	// Timeout overrides the engine default when set.
	Timeout *time.Duration

	// DisableRollback overrides the engine default when set.
	DisableRollback *bool
}

// UpdateRequest describes a stack update.
type UpdateRequest struct {
	// Template is the new template; nil keeps the current one.
	Template *engine.Template

	// Parameters are the new parameter values.
	Parameters map[string]string

	// ReuseParameters starts from the stored parameter values and applies
	// Parameters on top, instead of replacing them.
	ReuseParameters bool
}

// ValidateTemplate checks a template and its parameters without creating
// anything.
func (e *Engine) ValidateTemplate(ctx context.Context, tmpl *engine.Template, params map[string]string) (*TemplateSummary, error) {
	opts := e.stackOptions(ctx)
	opts.Repository = nil
	s, err := engine.NewStack("validate", tmpl, withParameters(opts, params))
	if err != nil {
		return nil, err
	}
	if err := s.Validate(ctx); err != nil {
		return nil, err
	}
	return &TemplateSummary{
		Description: tmpl.Description,
		Parameters:  tmpl.Parameters,
		Resources:   tmpl.ResourceNames(),
	}, nil
}

// CreateStack stores a new stack and creates its resources.
func (e *Engine) CreateStack(ctx context.Context, req CreateRequest) (info *StackInfo, err error) {
	op := e.tel.StartStackOperation(ctx, req.Name, engine.ActionCreate)
	var stack *engine.Stack
	defer func() { op.End(stack, err) }()
	ctx = op.Ctx

	if _, lookupErr := e.repo.GetStackByName(ctx, req.Name); lookupErr == nil {
		return nil, engine.NewConflictError(fmt.Sprintf("stack %s already exists", req.Name), nil).
			WithCode(engine.ErrCodeAlreadyExists)
	} else if !engine.IsNotFound(lookupErr) {
		return nil, fmt.Errorf("failed to look up stack %s: %w", req.Name, lookupErr)
	}

	opts := withParameters(e.stackOptions(ctx), req.Parameters)
	if req.Timeout != nil {
		opts.Timeout = *req.Timeout
	}
	if req.DisableRollback != nil {
		opts.DisableRollback = *req.DisableRollback
	}

	s, err := engine.NewStack(req.Name, req.Template, opts)
	if err != nil {
		return nil, err
	}
	if err = s.Validate(ctx); err != nil {
		return nil, err
	}
	if err = s.Store(ctx); err != nil {
		return nil, err
	}
	stack = s

	err = e.withLock(ctx, s.ID, s.Create)
	return newStackInfo(s), err
}

// UpdateStack converges an existing stack onto a new template and parameters.
func (e *Engine) UpdateStack(ctx context.Context, ref string, req UpdateRequest) (*StackInfo, error) {
	return e.mutate(ctx, ref, engine.ActionUpdate, func(ctx context.Context, s *engine.Stack) error {
		tmpl := req.Template
		if tmpl == nil {
			tmpl = s.Template
		}
		params := req.Parameters
		if req.ReuseParameters {
			params = s.Parameters().Given()
			for k, v := range req.Parameters {
				params[k] = v
			}
		}
		return s.Update(ctx, tmpl, params)
	})
}

// DeleteStack deletes every resource of a stack and then the stack itself.
func (e *Engine) DeleteStack(ctx context.Context, ref string) (*StackInfo, error) {
	return e.mutate(ctx, ref, engine.ActionDelete, func(ctx context.Context, s *engine.Stack) error {
		return s.Delete(ctx)
	})
}

// SuspendStack suspends every resource of a stack.
func (e *Engine) SuspendStack(ctx context.Context, ref string) (*StackInfo, error) {
	return e.mutate(ctx, ref, engine.ActionSuspend, func(ctx context.Context, s *engine.Stack) error {
		return s.Suspend(ctx)
	})
}

// ResumeStack resumes a suspended stack.
func (e *Engine) ResumeStack(ctx context.Context, ref string) (*StackInfo, error) {
	return e.mutate(ctx, ref, engine.ActionResume, func(ctx context.Context, s *engine.Stack) error {
		return s.Resume(ctx)
	})
}

// RestartResource recreates one resource and everything that depends on it.
func (e *Engine) RestartResource(ctx context.Context, ref, resource string) (*StackInfo, error) {
	return e.mutate(ctx, ref, engine.ActionCreate, func(ctx context.Context, s *engine.Stack) error {
		return s.RestartResource(ctx, resource)
	})
}

// ShowStack returns the current state of a stack, with its outputs.
func (e *Engine) ShowStack(ctx context.Context, ref string) (*StackInfo, error) {
	s, err := e.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return newStackInfo(s), nil
}

// ListStacks lists every stack in creation order.
func (e *Engine) ListStacks(ctx context.Context) ([]StackSummary, error) {
	records, err := e.repo.ListStacks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}
	out := make([]StackSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, newStackSummary(rec))
	}
	return out, nil
}

// ListEvents returns the resource events of a stack in the order they
// happened.
func (e *Engine) ListEvents(ctx context.Context, ref string) ([]*engine.EventRecord, error) {
	rec, err := e.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.repo.ListEvents(ctx, rec.ID)
}

// StackOutputs resolves the outputs of a stack.
func (e *Engine) StackOutputs(ctx context.Context, ref string) (map[string]interface{}, error) {
	s, err := e.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.Outputs(), nil
}

// StackTemplate returns the template a stack currently converges to.
func (e *Engine) StackTemplate(ctx context.Context, ref string) (*engine.Template, error) {
	rec, err := e.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	return rec.Template, nil
}

func withParameters(opts engine.StackOptions, params map[string]string) engine.StackOptions {
	opts.Parameters = params
	return opts
}
