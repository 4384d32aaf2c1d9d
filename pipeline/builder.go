package pipeline

// Chain accumulates typed stages whose last output is T. Adjacent types are
// checked by the compiler; New still runs the runtime check.
//
//	specs := pipeline.Into(
//		pipeline.Then(pipeline.From("ints", ints), "double", double),
//		"collect", collect)
type Chain[T any] struct {
	specs []StageSpec
}

func spec(name string, stage any, opts []StageOption) StageSpec {
	s := StageSpec{Name: name, Stage: stage}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// From starts a chain with a source.
func From[T any](name string, src SourceFunc[T], opts ...StageOption) Chain[T] {
	return Chain[T]{specs: []StageSpec{spec(name, src, opts)}}
}

// Then appends a transformer from T to U.
func Then[T, U any](c Chain[T], name string, fn MapFunc[T, U], opts ...StageOption) Chain[U] {
	specs := append(c.specs[:len(c.specs):len(c.specs)], spec(name, fn, opts))
	return Chain[U]{specs: specs}
}

// Into terminates the chain with a sink and returns the stage list for New.
func Into[T any](c Chain[T], name string, sink SinkFunc[T], opts ...StageOption) []StageSpec {
	return append(c.specs[:len(c.specs):len(c.specs)], spec(name, sink, opts))
}
