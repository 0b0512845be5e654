// Package telemetry provides observability instrumentation for stackforge.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind a single Telemetry value
// that the service layer threads through every stack operation.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// Loggers carry the stack, resource and engine that produced a message:
//
//	logger := tel.Logger.NewComponentLogger("service").
//	    WithStack("web", stackID).
//	    WithResource("Server")
//	logger.Info("Resource created")
//
// The engine takes a zerolog.Logger by value; use Logger.Zerolog to hand one
// over.
//
// # Stack Operations
//
// StartStackOperation opens a span named after the action, scopes a logger
// to the stack and counts the operation:
//
//	op := tel.StartStackOperation(ctx, "web", engine.ActionCreate)
//	err := stack.Create(op.Ctx)
//	op.End(stack, err)
//
// End records the final stack status, the duration and, on failure, the
// error class and code.
//
// # Metrics
//
// Metrics implements engine.Observer and lock.Observer, so it can be passed
// straight to StackOptions.Observer and lock.WithObserver. Key metrics:
//
//   - stackforge_stack_operations_started_total{action}
//   - stackforge_stack_operations_completed_total{action,status}
//   - stackforge_stack_operation_duration_seconds{action,status}
//   - stackforge_active_stack_operations
//   - stackforge_resource_actions_total{type,action,status}
//   - stackforge_resource_action_duration_seconds{type,action}
//   - stackforge_stack_lock_acquisitions_total{outcome}
//   - stackforge_errors_by_class_total{class}
//   - stackforge_errors_by_code_total{code}
//
// Metrics.Server returns an http.Server for the /metrics endpoint; the
// caller runs and shuts it down.
//
// # Exporters
//
//   - "stdout": pretty-printed spans on stderr (development)
//   - "otlp": OTLP/gRPC to a collector
//   - "none": spans are created but not exported
package telemetry
