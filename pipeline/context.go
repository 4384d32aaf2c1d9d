package pipeline

import (
	"context"
	"log/slog"
)

// RunContext is shared by the workers of one stage during one Run. It is never
// mutated after creation; only its Telemetry receives concurrent updates.
type RunContext struct {
	ctx       context.Context
	name      string
	stage     string
	logger    *slog.Logger
	telemetry Telemetry
	policy    ErrorPolicy
}

// NewRunContext builds a RunContext outside of an Orchestrator, for exercising a
// stage directly (tests, one-off tools). Nil logger and telemetry get defaults.
func NewRunContext(ctx context.Context, name string, policy ErrorPolicy, logger *slog.Logger, telemetry Telemetry) *RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	if telemetry == nil {
		telemetry = NewMemoryTelemetry()
	}
	return &RunContext{ctx: ctx, name: name, logger: logger, telemetry: telemetry, policy: policy}
}

// Context is cancelled when the run aborts. Stages doing blocking I/O should pass it on.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// Done is a shortcut for Context().Done().
func (rc *RunContext) Done() <-chan struct{} { return rc.ctx.Done() }

// Aborted reports whether the run has been cancelled.
func (rc *RunContext) Aborted() bool { return rc.ctx.Err() != nil }

// Name is the pipeline name.
func (rc *RunContext) Name() string { return rc.name }

// Stage is the name of the stage the context was handed to, "" outside a run.
func (rc *RunContext) Stage() string { return rc.stage }

// ForStage returns a copy of rc bound to stage, with a logger carrying the
// stage attribute.
func (rc *RunContext) ForStage(stage string) *RunContext {
	c := *rc
	c.stage = stage
	c.logger = rc.logger.With(slog.String("stage", stage))
	return &c
}

func (rc *RunContext) Logger() *slog.Logger { return rc.logger }

func (rc *RunContext) Telemetry() Telemetry { return rc.telemetry }

func (rc *RunContext) Policy() ErrorPolicy { return rc.policy }

// HandleError classifies a record-level error according to the run's policy.
//
// Under FailFast it returns err unchanged and the stage must return it, which
// aborts the run. Under SkipRecord it increments metric, logs the error and
// returns nil; the stage then drops the current record and keeps going.
func (rc *RunContext) HandleError(err error, metric string) error {
	if err == nil {
		return nil
	}
	if rc.policy == FailFast {
		return err
	}
	rc.telemetry.Incr(metric, 1)
	rc.logger.Error("record skipped",
		slog.String("metric", metric),
		slog.String("error", err.Error()))
	return nil
}
