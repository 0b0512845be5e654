package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stackforge/pkg/engine"
	"github.com/openfroyo/stackforge/pkg/lock"
	"github.com/openfroyo/stackforge/pkg/telemetry"
)

// Options configures an Engine.
type Options struct {
	// Repository persists stacks, resources and events. Required.
	Repository engine.Repository

	// Registry resolves resource types to drivers. Required.
	Registry *engine.Registry

	// Lock serialises operations on a stack across engines. Required.
	Lock *lock.StackLock

	// Telemetry receives logs, spans and metrics. Defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// Region is reported through the AWS::Region pseudo parameter.
	Region string

	// Timeout is the default stack timeout; zero means none.
	Timeout time.Duration

	// PollInterval is the wait between scheduler steps.
	PollInterval time.Duration

	// DisableRollback is the default for new stacks.
	DisableRollback bool

	// Version is reported to engines probing this one.
	Version string

	// RunnerOptions are passed to every TaskRunner, mainly for tests.
	RunnerOptions []engine.RunnerOption
}

// Engine runs stack operations.
type Engine struct {
	repo     engine.Repository
	registry *engine.Registry
	locks    *lock.StackLock
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	opts     Options

	listener *lock.Listener
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, errors.New("service: a repository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("service: a driver registry is required")
	}
	if opts.Lock == nil {
		return nil, errors.New("service: a stack lock is required")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	logger := opts.Telemetry.Logger.
		NewComponentLogger("service").
		WithEngineID(opts.Lock.EngineID()).
		Zerolog()

	return &Engine{
		repo:     opts.Repository,
		registry: opts.Registry,
		locks:    opts.Lock,
		tel:      opts.Telemetry,
		logger:   logger,
		opts:     opts,
	}, nil
}

// EngineID returns the id this engine uses in stack locks.
func (e *Engine) EngineID() string {
	return e.locks.EngineID()
}

// Registry returns the driver registry.
func (e *Engine) Registry() *engine.Registry {
	return e.registry
}

// Listen answers liveness probes from other engines on conn until Close.
func (e *Engine) Listen(conn *nats.Conn) error {
	if e.listener != nil {
		return errors.New("service: already listening")
	}
	l := lock.NewListener(e.EngineID(), e.opts.Version, e.logger)
	if err := l.Start(conn); err != nil {
		return err
	}
	e.listener = l
	return nil
}

// Close stops the liveness listener, if any.
func (e *Engine) Close() error {
	if e.listener == nil {
		return nil
	}
	err := e.listener.Stop()
	e.listener = nil
	return err
}

// stackOptions returns the options for building or loading a stack.
func (e *Engine) stackOptions(ctx context.Context) engine.StackOptions {
	return engine.StackOptions{
		Region:          e.opts.Region,
		Timeout:         e.opts.Timeout,
		DisableRollback: e.opts.DisableRollback,
		Repository:      e.repo,
		Registry:        e.registry,
		Logger:          telemetry.FromContext(ctx).Zerolog(),
		Observer:        e.tel.Metrics,
		PollInterval:    e.opts.PollInterval,
		RunnerOptions:   e.opts.RunnerOptions,
	}
}

// lookup finds the stack row by id or name.
func (e *Engine) lookup(ctx context.Context, ref string) (*engine.StackRecord, error) {
	rec, err := e.repo.GetStack(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !engine.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up stack %s: %w", ref, err)
	}
	return e.repo.GetStackByName(ctx, ref)
}

// load restores a stack from the repository.
func (e *Engine) load(ctx context.Context, ref string) (*engine.Stack, error) {
	return engine.LoadStack(ctx, ref, e.stackOptions(ctx))
}

// withLock runs fn while holding the lock of stackID, inside a span that
// covers the time the lock is held.
func (e *Engine) withLock(ctx context.Context, stackID string, fn func(ctx context.Context) error) error {
	ctx, span := e.tel.Tracer.StartSpan(ctx, "stack.lock",
		telemetry.AttrStackID.String(stackID),
		telemetry.AttrEngineID.String(e.EngineID()),
	)
	defer span.End()

	err := e.locks.Do(ctx, stackID, fn)
	if engine.IsActionInProgress(err) {
		telemetry.RecordError(span, err)
	}
	return err
}

// mutate is the common shape of every operation on an existing stack: find
// it, take its lock, reload it under the lock and run fn.
func (e *Engine) mutate(ctx context.Context, ref string, action engine.Action, fn func(ctx context.Context, s *engine.Stack) error) (info *StackInfo, err error) {
	rec, err := e.lookup(ctx, ref)
	if err != nil {
		e.tel.Metrics.RecordError(err)
		return nil, err
	}

	op := e.tel.StartStackOperation(ctx, rec.Name, action)
	var stack *engine.Stack
	defer func() { op.End(stack, err) }()

	err = e.withLock(op.Ctx, rec.ID, func(ctx context.Context) error {
		s, loadErr := e.load(ctx, rec.ID)
		if loadErr != nil {
			return loadErr
		}
		stack = s
		return fn(ctx, s)
	})
	if stack == nil {
		return nil, err
	}
	return newStackInfo(stack), err
}
