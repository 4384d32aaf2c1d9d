/*
Package pipeline is the streaming ingestion engine every import job is built on.

A pipeline is an ordered list of stages: one Source, zero or more Transformers and
one Sink. Adjacent stages are connected by bounded channels, each stage runs a
configurable number of workers, and a per-stage coordinator propagates shutdown
downstream once all of the stage's workers are finished.

# Basic Usage

	specs := []pipeline.StageSpec{
	    {Name: "numbers", Stage: pipeline.SourceFunc[int](func(rc *pipeline.RunContext, emit func(int) error) error {
	        for i := 1; i <= 5; i++ {
	            if err := emit(i); err != nil {
	                return err
	            }
	        }
	        return nil
	    })},
	    {Name: "double", Stage: pipeline.MapFunc[int, int](func(rc *pipeline.RunContext, n int, emit func(int) error) error {
	        return emit(n * 2)
	    }), Parallelism: 4},
	    {Name: "print", Stage: pipeline.SinkFunc[int](func(rc *pipeline.RunContext, n int) error {
	        fmt.Println(n)
	        return nil
	    })},
	}

	orch, err := pipeline.New(specs, pipeline.WithErrorPolicy(pipeline.FailFast))
	if err != nil {
	    // configuration error: wrong roles or incompatible types
	}
	if err := orch.Run(ctx); err != nil {
	    // pipeline aborted
	}

# Types between stages

Every stage declares its input and/or output type as a reflect.Type. New rejects
a pipeline whose adjacent types are incompatible before anything runs. Two types
are compatible when they are equal, when either side is the empty interface, or
when the producer's type is assignable to the consumer's (for example a concrete
struct feeding an interface it implements). For pipelines assembled in code the
From/Then/Into builder enforces the same rule at compile time.

# Shutdown

Each queue carries items and sentinels. When every worker of stage i has returned,
the coordinator of stage i writes exactly Parallelism(i+1) sentinels into the queue
feeding stage i+1, so every downstream worker receives one shutdown signal no matter
how parallelism differs between neighbours. Drain therefore proceeds stage by stage
from the source to the sink.

# Ordering

Items keep their order within one worker. With Parallelism > 1 the workers of a
stage race for queue items and their outputs interleave; this is required for
horizontal scale-out and callers that need ordering must use Parallelism 1.

# Errors

Stages turn record-level failures into no-ops with RunContext.HandleError. Under
SkipRecord the error is counted and logged and the stage moves on; under FailFast
HandleError returns the error and the stage must return it. Any error a stage
returns, and any panic, is stage-fatal under both policies: the run is aborted,
every worker is cancelled, and Run returns a *StageError.

The engine has no timeouts. Cancellation is cooperative: emit and Inbox observe the
run's context at every push and pop, and a Source that blocks inside its own I/O
only notices an abort between produced items unless it watches rc.Context() itself.
*/
package pipeline
