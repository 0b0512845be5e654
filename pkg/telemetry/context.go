package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns a telemetry instance that discards logs, exports no traces and
// records no metrics.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes pending spans and closes the log output.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Tracer.Shutdown(ctx), t.Logger.Close())
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StackOperation instruments a single stack action with a span, a scoped
// logger and the stack operation metrics.
type StackOperation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	tel    *Telemetry
	action engine.Action
	timer  *Timer
}

// StartStackOperation begins an instrumented stack action.
func (t *Telemetry) StartStackOperation(ctx context.Context, stackName string, action engine.Action) *StackOperation {
	spanCtx, span := t.Tracer.StartStackSpan(ctx, stackName, action)

	logger := t.Logger.WithStack(stackName, "").WithField("action", string(action))
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}

	t.Metrics.RecordStackOperationStarted(action)

	return &StackOperation{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		tel:    t,
		action: action,
		timer:  NewTimer(),
	}
}

// End finishes the operation. stack may be nil when the operation failed
// before a stack was built; err is the operation's result.
func (op *StackOperation) End(stack *engine.Stack, err error) {
	status := engine.StatusComplete
	if err != nil {
		status = engine.StatusFailed
	}
	if stack != nil {
		op.Span.SetAttributes(AttrStackID.String(stack.ID))
		AddStackEvent(op.Span, stack.State(), stack.StatusReason)
		if stack.Status != engine.StatusNone {
			status = stack.Status
		}
	}

	op.tel.Metrics.RecordStackOperationCompleted(op.action, status, op.timer.Duration())

	if err != nil {
		op.tel.Metrics.RecordError(err)
		RecordError(op.Span, err)
		op.Logger.WithError(err).Error("Stack operation failed")
	} else {
		RecordSuccess(op.Span)
		op.Logger.Infof("Stack operation finished in %s", op.timer.Duration())
	}
	op.Span.End()
}
