package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// ErrLockNotFound is returned by a Store when no lock row matches.
var ErrLockNotFound = errors.New("stack lock not found")

// Store persists lock rows. Every method must be atomic.
type Store interface {
	// CreateLock inserts the row (stackID, engineID). It returns "" when the
	// row was inserted, otherwise the id of the engine already holding it.
	CreateLock(ctx context.Context, stackID, engineID string) (string, error)

	// StealLock sets the owner to newEngineID if the row still names
	// oldEngineID. It returns "" on success, the current owner when someone
	// else took the lock first, or ErrLockNotFound when the row is gone.
	StealLock(ctx context.Context, stackID, oldEngineID, newEngineID string) (string, error)

	// ReleaseLock deletes the row if it names engineID. It returns
	// ErrLockNotFound when there was no such row.
	ReleaseLock(ctx context.Context, stackID, engineID string) error
}

// Prober checks whether another engine is still running.
type Prober interface {
	Alive(ctx context.Context, engineID string) bool
}

// Outcome is the result of an Acquire call.
type Outcome string

const (
	OutcomeAcquired  Outcome = "acquired"
	OutcomeStolen    Outcome = "stolen"
	OutcomeContended Outcome = "contended"
	OutcomeError     Outcome = "error"
)

// Observer is notified about every Acquire outcome.
type Observer interface {
	LockAcquire(outcome Outcome)
}

// Option configures a StackLock.
type Option func(*StackLock)

// WithObserver sets the Observer notified about acquisitions.
func WithObserver(o Observer) Option {
	return func(l *StackLock) {
		l.observer = o
	}
}

// StackLock acquires and releases stack locks on behalf of one engine.
type StackLock struct {
	store    Store
	prober   Prober
	engineID string
	logger   zerolog.Logger
	observer Observer
}

// New creates a StackLock for the engine engineID.
func New(store Store, prober Prober, engineID string, logger zerolog.Logger, opts ...Option) *StackLock {
	if prober == nil {
		prober = AssumeAlive{}
	}
	l := &StackLock{
		store:    store,
		prober:   prober,
		engineID: engineID,
		logger:   logger.With().Str("component", "stack-lock").Str("engine_id", engineID).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EngineID returns the id of the engine this lock acts for.
func (l *StackLock) EngineID() string {
	return l.engineID
}

// Acquire takes the lock of stackID. It fails with an ActionInProgress error
// when this engine or another live engine already holds it.
func (l *StackLock) Acquire(ctx context.Context, stackID string) error {
	outcome, err := l.acquire(ctx, stackID, true)
	if l.observer != nil {
		l.observer.LockAcquire(outcome)
	}
	return err
}

func (l *StackLock) acquire(ctx context.Context, stackID string, retry bool) (Outcome, error) {
	holder, err := l.store.CreateLock(ctx, stackID, l.engineID)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to create lock for stack %s: %w", stackID, err)
	}
	if holder == "" {
		l.logger.Debug().Str("stack_id", stackID).Msg("Acquired stack lock")
		return OutcomeAcquired, nil
	}

	if holder == l.engineID {
		l.logger.Debug().Str("stack_id", stackID).Msg("Stack lock already held by this engine")
		return OutcomeContended, lockedError(stackID, holder)
	}
	if l.prober.Alive(ctx, holder) {
		l.logger.Debug().Str("stack_id", stackID).Str("holder", holder).Msg("Stack lock held by a live engine")
		return OutcomeContended, lockedError(stackID, holder)
	}

	l.logger.Info().Str("stack_id", stackID).Str("holder", holder).Msg("Engine holding the stack lock is not alive, stealing the lock")
	current, err := l.store.StealLock(ctx, stackID, holder, l.engineID)
	switch {
	case err == nil && current == "":
		l.logger.Info().Str("stack_id", stackID).Str("previous_holder", holder).Msg("Stole stack lock")
		return OutcomeStolen, nil
	case errors.Is(err, ErrLockNotFound):
		if retry {
			l.logger.Info().Str("stack_id", stackID).Msg("Stack lock was released while stealing, retrying")
			return l.acquire(ctx, stackID, false)
		}
		return OutcomeContended, lockedError(stackID, holder)
	case err != nil:
		return OutcomeError, fmt.Errorf("failed to steal lock for stack %s: %w", stackID, err)
	default:
		l.logger.Info().Str("stack_id", stackID).Str("holder", current).Msg("Lost the race stealing the stack lock")
		return OutcomeContended, lockedError(stackID, current)
	}
}

func lockedError(stackID, holder string) error {
	return engine.NewConflictError(fmt.Sprintf("stack %s already has an action in progress", stackID), nil).
		WithCode(engine.ErrCodeActionInProgress).
		WithDetail("engine_id", holder)
}

// Release drops the lock of stackID if this engine holds it. Releasing a lock
// that is not held only logs a warning.
func (l *StackLock) Release(ctx context.Context, stackID string) error {
	err := l.store.ReleaseLock(ctx, stackID, l.engineID)
	if errors.Is(err, ErrLockNotFound) {
		l.logger.Warn().Str("stack_id", stackID).Msg("Lock was already released")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lock for stack %s: %w", stackID, err)
	}
	l.logger.Debug().Str("stack_id", stackID).Msg("Released stack lock")
	return nil
}

// Do runs fn while holding the lock of stackID. The lock is released even
// when ctx is cancelled.
func (l *StackLock) Do(ctx context.Context, stackID string, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, stackID); err != nil {
		return err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx), stackID); err != nil {
			l.logger.Error().Err(err).Str("stack_id", stackID).Msg("Failed to release stack lock")
		}
	}()
	return fn(ctx)
}

// AssumeAlive is a Prober for single engine deployments without a message
// bus. Every engine is treated as alive so locks are never stolen.
type AssumeAlive struct{}

// Alive implements Prober.
func (AssumeAlive) Alive(context.Context, string) bool {
	return true
}
