// Package service is the stack orchestration front end used by the CLI and
// by long running engine processes.
//
// An Engine ties the orchestration core (pkg/engine) to its collaborators:
// the repository that persists stacks, the driver registry, the distributed
// stack lock and telemetry. Every operation that changes a stack runs while
// holding that stack's lock, so two engines sharing a store never act on the
// same stack at once. Read operations take no lock.
//
//	eng, err := service.New(service.Options{
//	    Repository: store,
//	    Registry:   builtin.NewRegistry(),
//	    Lock:       lock.New(store, lock.AssumeAlive{}, engineID, logger),
//	    Telemetry:  tel,
//	})
//	if err != nil {
//	    return err
//	}
//
//	info, err := eng.CreateStack(ctx, service.CreateRequest{
//	    Name:     "web",
//	    Template: tmpl,
//	})
//
// Operations return a StackInfo describing the stack after the operation,
// also when the operation itself failed, so callers can report the final
// state and status reason.
package service
