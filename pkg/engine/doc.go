// Package engine provides the orchestration runtime of Stackforge.
//
// # Overview
//
// A Stack is built from a Template: a declarative document naming resources,
// their types, properties and the references between them. The engine turns
// that document into a dependency Graph and drives every resource through its
// lifecycle with a cooperative scheduler:
//
//  1. Graph - DependsOn, Ref and Fn::GetAtt become "requires" edges; cycles
//     and dangling references fail validation before anything runs.
//  2. Scheduler - a TaskRunner steps a Task until it finishes or its timeout
//     passes. DependencyTaskGroup runs one task per graph node, starting a
//     node only after its predecessors completed.
//  3. Resource - create, delete, update, suspend and resume follow one action
//     routine: move to IN_PROGRESS, call the driver's Handle hook, then poll
//     its Check hook until done.
//  4. Stack - create, delete, suspend, resume and restart_resource run the
//     resource tasks over the graph, forward or in reverse.
//  5. Update - a new template is converged onto the live stack by creating,
//     updating in place, replacing and finally deleting resources, with
//     automatic rollback on failure.
//
// # Drivers
//
// Resource types are plain Driver values registered in a Registry. Every hook
// is optional:
//
//	registry.MustRegister(&engine.Driver{
//	    Type: "Example::Server",
//	    Properties: map[string]engine.PropertySchema{
//	        "Size": {Type: engine.PropertyString, Required: true},
//	    },
//	    HandleCreate: func(ctx context.Context, r *engine.Resource) (engine.Cookie, error) {
//	        id, err := api.Create(ctx)
//	        if err != nil {
//	            return nil, err
//	        }
//	        r.SetPhysicalID(ctx, id)
//	        return id, nil
//	    },
//	    CheckCreateComplete: func(ctx context.Context, r *engine.Resource, c engine.Cookie) (bool, error) {
//	        return api.Ready(ctx, c.(string))
//	    },
//	})
//
// Any error returned by a hook is recorded on the resource as (action, FAILED)
// and surfaced as a RESOURCE_FAILURE EngineError.
//
// # Persistence
//
// A Stack given a Repository persists its own row, one row per resource and
// an append-only event log of resource state changes. Without a Repository
// the stack lives in memory only.
package engine
