package pipeline

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("pipeline configuration error")

	// ErrAborted is returned by emit once the run is cancelled, and by Run when
	// the run was cancelled before any worker error was captured.
	ErrAborted = errors.New("pipeline aborted")

	// ErrAlreadyRun is returned by a second call to Orchestrator.Run.
	ErrAlreadyRun = errors.New("pipeline already run")
)

// ConfigError describes a pipeline that cannot be built. Stage and Next name the
// offending stage and, for type mismatches, its downstream neighbour.
type ConfigError struct {
	Stage  string
	Next   string
	Out    reflect.Type
	In     reflect.Type
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Next != "":
		return fmt.Sprintf("pipeline: stage %q output %s is incompatible with stage %q input %s",
			e.Stage, typeName(e.Out), e.Next, typeName(e.In))
	case e.Stage != "":
		return fmt.Sprintf("pipeline: stage %q: %s", e.Stage, e.Reason)
	default:
		return "pipeline: " + e.Reason
	}
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// StageError is the stage-fatal error captured from a worker.
type StageError struct {
	Stage  string
	Worker int
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q worker %d: %v", e.Stage, e.Worker, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking stage.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// ItemTypeError is returned by the generic adapters when an item does not have
// the declared type. It only happens when validation was bypassed by an "any"
// wildcard on one side.
type ItemTypeError struct {
	Want reflect.Type
	Got  any
}

func (e *ItemTypeError) Error() string {
	return fmt.Sprintf("pipeline: expected item of type %s, got %T", typeName(e.Want), e.Got)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
