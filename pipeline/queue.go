package pipeline

import (
	"context"
	"iter"
)

// envelope is what travels on a queue: an item, or a sentinel when eos is set.
type envelope struct {
	item any
	eos  bool
}

var sentinel = envelope{eos: true}

// push writes env to q unless ctx is done. The abort flag is checked before the
// send so a cancelled run never emits another item even when q has room.
func push(ctx context.Context, q chan<- envelope, env envelope) error {
	if ctx.Err() != nil {
		return ErrAborted
	}
	select {
	case <-ctx.Done():
		return ErrAborted
	case q <- env:
		return nil
	}
}

// Inbox presents an upstream queue as a lazy sequence. Iteration stops at the
// first sentinel or when the run is aborted. An Inbox belongs to one worker and
// is not safe for concurrent use.
type Inbox struct {
	ctx    context.Context
	q      <-chan envelope
	onItem func()
	closed bool
	eos    bool
}

func newInbox(ctx context.Context, q <-chan envelope, onItem func()) *Inbox {
	return &Inbox{ctx: ctx, q: q, onItem: onItem}
}

// NewInbox returns an Inbox over a plain channel of items, for driving a
// Transformer or Sink outside of an Orchestrator. Closing items ends the sequence.
func NewInbox(ctx context.Context, items <-chan any) *Inbox {
	q := make(chan envelope)
	go func() {
		defer close(q)
		for {
			var item any
			var ok bool
			select {
			case <-ctx.Done():
				return
			case item, ok = <-items:
			}
			if !ok {
				break
			}
			select {
			case <-ctx.Done():
				return
			case q <- envelope{item: item}:
			}
		}
		select {
		case <-ctx.Done():
		case q <- sentinel:
		}
	}()
	return newInbox(ctx, q, nil)
}

// Next blocks for the next item. It returns false once the sentinel has been
// received or the run was aborted.
func (in *Inbox) Next() (any, bool) {
	if in.closed {
		return nil, false
	}
	if in.ctx.Err() != nil {
		in.closed = true
		return nil, false
	}
	select {
	case <-in.ctx.Done():
		in.closed = true
		return nil, false
	case env, ok := <-in.q:
		if !ok || env.eos {
			in.closed = true
			in.eos = true
			return nil, false
		}
		if in.onItem != nil {
			in.onItem()
		}
		return env.item, true
	}
}

// All returns the remaining items as an iterator.
func (in *Inbox) All() iter.Seq[any] {
	return func(yield func(any) bool) {
		for {
			item, ok := in.Next()
			if !ok || !yield(item) {
				return
			}
		}
	}
}

// Err reports why iteration stopped: nil after a sentinel, ErrAborted after an
// abort. A stage may return it as-is.
func (in *Inbox) Err() error {
	if in.eos {
		return nil
	}
	if in.ctx.Err() != nil {
		return ErrAborted
	}
	return nil
}

// drain empties q once every worker reading it has returned: it discards
// items until the sentinels owed to workers that stopped early have arrived,
// so the upstream coordinator can always deliver them. It returns the number of
// discarded items.
func drain(ctx context.Context, q <-chan envelope, sentinels int) int {
	n := 0
	for sentinels > 0 {
		select {
		case <-ctx.Done():
			return n
		case env := <-q:
			if env.eos {
				sentinels--
				continue
			}
			n++
		}
	}
	return n
}
