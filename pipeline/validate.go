package pipeline

import (
	"fmt"
	"reflect"
)

// node is a validated stage with its role resolved.
type node struct {
	spec StageSpec
	role role
	src  Source
	tr   Transformer
	sink Sink
}

func (n node) inputType() reflect.Type {
	switch n.role {
	case roleTransformer:
		return n.tr.InputType()
	case roleSink:
		return n.sink.InputType()
	}
	return nil
}

func (n node) outputType() reflect.Type {
	switch n.role {
	case roleSource:
		return n.src.OutputType()
	case roleTransformer:
		return n.tr.OutputType()
	}
	return nil
}

// isWildcard reports whether t accepts or produces anything: a nil type or the
// empty interface.
func isWildcard(t reflect.Type) bool {
	return t == nil || (t.Kind() == reflect.Interface && t.NumMethod() == 0)
}

// compatible reports whether items of type out may be fed to a stage declaring
// input type in.
func compatible(out, in reflect.Type) bool {
	if isWildcard(out) || isWildcard(in) {
		return true
	}
	return out == in || out.AssignableTo(in)
}

// Compatible is the adjacency rule used by New, exported for callers that
// assemble stage lists from configuration and want to report mismatches early.
func Compatible(out, in reflect.Type) bool { return compatible(out, in) }

func buildNodes(specs []StageSpec) ([]node, error) {
	if len(specs) < 2 {
		return nil, &ConfigError{Reason: fmt.Sprintf("need at least 2 stages, got %d", len(specs))}
	}

	seen := make(map[string]struct{}, len(specs))
	nodes := make([]node, 0, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("stage %d has no name", i)}
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, &ConfigError{Stage: spec.Name, Reason: "duplicate stage name"}
		}
		seen[spec.Name] = struct{}{}

		if spec.Stage == nil {
			return nil, &ConfigError{Stage: spec.Name, Reason: "stage is nil"}
		}
		if spec.Parallelism < 0 {
			return nil, &ConfigError{Stage: spec.Name, Reason: fmt.Sprintf("negative parallelism %d", spec.Parallelism)}
		}
		if spec.QueueSize < 0 {
			return nil, &ConfigError{Stage: spec.Name, Reason: fmt.Sprintf("negative queue size %d", spec.QueueSize)}
		}
		if spec.Parallelism == 0 {
			spec.Parallelism = 1
		}
		if spec.QueueSize == 0 {
			spec.QueueSize = DefaultQueueSize
		}

		r, matched := roleOf(spec.Stage)
		if r == roleNone {
			return nil, &ConfigError{Stage: spec.Name,
				Reason: fmt.Sprintf("%T must implement exactly one of Source, Transformer, Sink (implements %d)", spec.Stage, matched)}
		}

		var want role
		switch i {
		case 0:
			want = roleSource
		case len(specs) - 1:
			want = roleSink
		default:
			want = roleTransformer
		}
		if r != want {
			return nil, &ConfigError{Stage: spec.Name,
				Reason: fmt.Sprintf("position %d must be a %s, got a %s", i, want, r)}
		}

		n := node{spec: spec, role: r}
		switch r {
		case roleSource:
			n.src = spec.Stage.(Source)
		case roleTransformer:
			n.tr = spec.Stage.(Transformer)
		case roleSink:
			n.sink = spec.Stage.(Sink)
		}
		nodes = append(nodes, n)
	}

	for i := 0; i+1 < len(nodes); i++ {
		out, in := nodes[i].outputType(), nodes[i+1].inputType()
		if !compatible(out, in) {
			return nil, &ConfigError{
				Stage: nodes[i].spec.Name,
				Next:  nodes[i+1].spec.Name,
				Out:   out,
				In:    in,
			}
		}
	}
	return nodes, nil
}
