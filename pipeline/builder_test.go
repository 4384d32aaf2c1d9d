package pipeline

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	var got []string
	specs := Into(
		Then(
			From("ints", intsUpTo(3)),
			"format",
			MapFunc[int, string](func(rc *RunContext, n int, emit func(string) error) error {
				return emit("#" + strconv.Itoa(n))
			}),
			WithParallelism(1), WithQueueSize(4),
		),
		"collect",
		SinkFunc[string](func(rc *RunContext, s string) error {
			got = append(got, s)
			return nil
		}),
	)

	require.Len(t, specs, 3)
	assert.Equal(t, 4, specs[1].QueueSize)

	o, err := New(specs, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, []string{"#1", "#2", "#3"}, got)
}

func TestInbox_OverChannel(t *testing.T) {
	items := make(chan any, 3)
	items <- 1
	items <- 2
	items <- 3
	close(items)

	c := &collector{}
	rc := NewRunContext(context.Background(), "direct", SkipRecord, quietLogger(), nil)
	in := NewInbox(context.Background(), items)
	require.NoError(t, c.sink().Consume(rc, in))
	assert.Equal(t, []int{1, 2, 3}, c.sorted())
	assert.NoError(t, in.Err())
}

func TestInbox_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := NewInbox(ctx, make(chan any))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, ok := in.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, in.Err(), ErrAborted)
}

func TestAs(t *testing.T) {
	v, err := As[int](7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	p, err := As[*Inbox](nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = As[int]("seven")
	var te *ItemTypeError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "expected item of type int, got string")
}
