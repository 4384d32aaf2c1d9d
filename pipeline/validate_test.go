package pipeline

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allRoles claims to be every kind of stage at once.
type allRoles struct{}

func (allRoles) InputType() reflect.Type                   { return nil }
func (allRoles) OutputType() reflect.Type                  { return nil }
func (allRoles) Stream(*RunContext, Emit) error            { return nil }
func (allRoles) Transform(*RunContext, *Inbox, Emit) error { return nil }
func (allRoles) Consume(*RunContext, *Inbox) error         { return nil }

func TestNew_RejectsInvalidPipelines(t *testing.T) {
	src := intsUpTo(1)
	sink := (&collector{}).sink()
	double := MapFunc[int, int](func(rc *RunContext, n int, emit func(int) error) error { return emit(n) })
	strSink := SinkFunc[string](func(rc *RunContext, s string) error { return nil })

	tests := []struct {
		name   string
		specs  []StageSpec
		errMsg string
	}{
		{"no stages", nil, "at least 2 stages"},
		{"single stage", []StageSpec{{Name: "a", Stage: src}}, "at least 2 stages"},
		{"first not a source", []StageSpec{{Name: "a", Stage: double}, {Name: "b", Stage: sink}}, "must be a Source"},
		{"last not a sink", []StageSpec{{Name: "a", Stage: src}, {Name: "b", Stage: double}}, "must be a Sink"},
		{"middle not a transformer", []StageSpec{{Name: "a", Stage: src}, {Name: "b", Stage: sink}, {Name: "c", Stage: sink}}, "must be a Transformer"},
		{"type mismatch", []StageSpec{{Name: "ints", Stage: src}, {Name: "strings", Stage: strSink}}, `stage "ints" output int is incompatible with stage "strings" input string`},
		{"duplicate names", []StageSpec{{Name: "a", Stage: src}, {Name: "a", Stage: sink}}, "duplicate"},
		{"empty name", []StageSpec{{Stage: src}, {Name: "b", Stage: sink}}, "no name"},
		{"nil stage", []StageSpec{{Name: "a"}, {Name: "b", Stage: sink}}, "nil"},
		{"negative parallelism", []StageSpec{{Name: "a", Stage: src, Parallelism: -1}, {Name: "b", Stage: sink}}, "negative parallelism"},
		{"negative queue size", []StageSpec{{Name: "a", Stage: src}, {Name: "b", Stage: sink, QueueSize: -5}}, "negative queue size"},
		{"ambiguous role", []StageSpec{{Name: "a", Stage: allRoles{}}, {Name: "b", Stage: sink}}, "exactly one"},
		{"no role", []StageSpec{{Name: "a", Stage: 42}, {Name: "b", Stage: sink}}, "exactly one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(tt.specs)
			require.Error(t, err)
			assert.Nil(t, o)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNew_TypeMismatchNamesBothStages(t *testing.T) {
	_, err := New([]StageSpec{
		{Name: "numbers", Stage: intsUpTo(3)},
		{Name: "words", Stage: MapFunc[string, string](func(rc *RunContext, s string, emit func(string) error) error { return emit(s) })},
		{Name: "sink", Stage: SinkFunc[string](func(*RunContext, string) error { return nil })},
	})

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "numbers", ce.Stage)
	assert.Equal(t, "words", ce.Next)
	assert.Equal(t, reflect.TypeFor[int](), ce.Out)
	assert.Equal(t, reflect.TypeFor[string](), ce.In)
}

func TestNew_NoStageRunsOnConfigError(t *testing.T) {
	called := false
	src := SourceFunc[int](func(rc *RunContext, emit func(int) error) error {
		called = true
		return nil
	})
	_, err := New([]StageSpec{
		{Name: "a", Stage: src},
		{Name: "b", Stage: SinkFunc[string](func(*RunContext, string) error { return nil })},
	})
	require.ErrorIs(t, err, ErrConfig)
	assert.False(t, called)
}

func TestCompatible(t *testing.T) {
	anyType := reflect.TypeFor[any]()
	tests := []struct {
		name string
		out  reflect.Type
		in   reflect.Type
		want bool
	}{
		{"equal", reflect.TypeFor[int](), reflect.TypeFor[int](), true},
		{"different", reflect.TypeFor[int](), reflect.TypeFor[string](), false},
		{"wildcard input", reflect.TypeFor[int](), anyType, true},
		{"wildcard output", anyType, reflect.TypeFor[string](), true},
		{"nil declaration", nil, reflect.TypeFor[string](), true},
		{"implements interface", reflect.TypeFor[*bytes.Buffer](), reflect.TypeFor[io.Reader](), true},
		{"interface to concrete", reflect.TypeFor[io.Reader](), reflect.TypeFor[*bytes.Buffer](), false},
		{"narrower interface", reflect.TypeFor[io.ReadWriter](), reflect.TypeFor[io.Reader](), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compatible(tt.out, tt.in))
		})
	}
}

func TestNew_AcceptsInterfaceDownstream(t *testing.T) {
	src := SourceFunc[*bytes.Buffer](func(rc *RunContext, emit func(*bytes.Buffer) error) error {
		return emit(bytes.NewBufferString("hello"))
	})
	var got string
	sink := SinkFunc[io.Reader](func(rc *RunContext, r io.Reader) error {
		b, err := io.ReadAll(r)
		got = string(b)
		return err
	})

	o, err := New([]StageSpec{{Name: "buf", Stage: src}, {Name: "read", Stage: sink}}, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, o.Run(t.Context()))
	assert.Equal(t, "hello", got)
}
