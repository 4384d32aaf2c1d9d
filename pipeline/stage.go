package pipeline

import (
	"reflect"
)

// DefaultQueueSize is used when a StageSpec leaves QueueSize at zero.
const DefaultQueueSize = 64

// Emit sends one item downstream. It blocks while the downstream queue is full
// and returns ErrAborted once the run has been cancelled; stages should return
// that error as-is.
type Emit func(item any) error

// Source produces a finite sequence of items. Stream is called once per run,
// however many workers the stage has; the workers share the produced sequence.
type Source interface {
	OutputType() reflect.Type
	Stream(rc *RunContext, emit Emit) error
}

// Transformer consumes the upstream queue and emits zero or more items per
// input. It may buffer internally before emitting.
type Transformer interface {
	InputType() reflect.Type
	OutputType() reflect.Type
	Transform(rc *RunContext, in *Inbox, emit Emit) error
}

// Sink consumes the upstream queue to exhaustion, performing side effects.
type Sink interface {
	InputType() reflect.Type
	Consume(rc *RunContext, in *Inbox) error
}

// StageSpec binds a stage to a name, a worker count and the capacity of the
// queue that feeds it. QueueSize is ignored for the Source.
type StageSpec struct {
	Name        string
	Stage       any // a Source, Transformer or Sink
	Parallelism int
	QueueSize   int
}

// StageOption adjusts a StageSpec built by From, Then or Into.
type StageOption func(*StageSpec)

// WithParallelism sets the worker count of a stage.
func WithParallelism(n int) StageOption {
	return func(s *StageSpec) { s.Parallelism = n }
}

// WithQueueSize sets the capacity of the queue feeding a stage.
func WithQueueSize(n int) StageOption {
	return func(s *StageSpec) { s.QueueSize = n }
}

type role int

const (
	roleNone role = iota
	roleSource
	roleTransformer
	roleSink
)

func (r role) String() string {
	switch r {
	case roleSource:
		return "Source"
	case roleTransformer:
		return "Transformer"
	case roleSink:
		return "Sink"
	default:
		return "none"
	}
}

// roleOf returns the single role a stage plays, or roleNone with the number of
// roles it matched when that number is not exactly one.
func roleOf(stage any) (role, int) {
	var matched []role
	if _, ok := stage.(Source); ok {
		matched = append(matched, roleSource)
	}
	if _, ok := stage.(Transformer); ok {
		matched = append(matched, roleTransformer)
	}
	if _, ok := stage.(Sink); ok {
		matched = append(matched, roleSink)
	}
	if len(matched) != 1 {
		return roleNone, len(matched)
	}
	return matched[0], 1
}

// SourceFunc adapts a typed producer function to Source.
type SourceFunc[T any] func(rc *RunContext, emit func(T) error) error

func (f SourceFunc[T]) OutputType() reflect.Type { return reflect.TypeFor[T]() }

func (f SourceFunc[T]) Stream(rc *RunContext, emit Emit) error {
	return f(rc, func(v T) error { return emit(v) })
}

// MapFunc adapts a per-item function to Transformer. It may emit any number of
// outputs for each input.
type MapFunc[T, U any] func(rc *RunContext, item T, emit func(U) error) error

func (f MapFunc[T, U]) InputType() reflect.Type  { return reflect.TypeFor[T]() }
func (f MapFunc[T, U]) OutputType() reflect.Type { return reflect.TypeFor[U]() }

func (f MapFunc[T, U]) Transform(rc *RunContext, in *Inbox, emit Emit) error {
	out := func(v U) error { return emit(v) }
	for item := range in.All() {
		v, err := As[T](item)
		if err != nil {
			return err
		}
		if err := f(rc, v, out); err != nil {
			return err
		}
	}
	return nil
}

// SinkFunc adapts a per-item function to Sink.
type SinkFunc[T any] func(rc *RunContext, item T) error

func (f SinkFunc[T]) InputType() reflect.Type { return reflect.TypeFor[T]() }

func (f SinkFunc[T]) Consume(rc *RunContext, in *Inbox) error {
	for item := range in.All() {
		v, err := As[T](item)
		if err != nil {
			return err
		}
		if err := f(rc, v); err != nil {
			return err
		}
	}
	return nil
}

// As converts a queue item to T. A nil item yields the zero T.
func As[T any](item any) (T, error) {
	if v, ok := item.(T); ok {
		return v, nil
	}
	var zero T
	if item == nil {
		return zero, nil
	}
	return zero, &ItemTypeError{Want: reflect.TypeFor[T](), Got: item}
}
