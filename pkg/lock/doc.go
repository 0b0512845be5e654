// Package lock serializes mutations of one stack across engine processes.
//
// A StackLock is a single row per stack naming the engine that owns it. An
// engine acquires the lock by inserting the row. When the row already names
// another engine, that engine is asked over a Prober whether it is still
// running; only an engine that does not answer loses its lock, which is then
// stolen with a compare-and-swap on the owner.
//
//	l := lock.New(store, lock.NewNATSProber(nc, engineID, 5*time.Second), engineID, logger)
//	if err := l.Acquire(ctx, stackID); err != nil {
//		return err // engine.IsActionInProgress(err) when another engine works on the stack
//	}
//	defer l.Release(ctx, stackID)
//
// Stores live in pkg/stores (SQLite, Redis and Postgres).
package lock
