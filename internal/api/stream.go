package api

import (
	"context"
	"io"
)

// Stream is a pull-based consumer of completion events. Recv returns io.EOF
// once the event sequence is exhausted; Close aborts the underlying call.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan Event
}

// newEventStream runs the producer in a goroutine writing to a buffered
// channel. A non-nil producer error surfaces as a final EventError.
func newEventStream(ctx context.Context, run func(context.Context, chan<- Event) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if err := run(streamCtx, ch); err != nil {
			ch <- Event{Type: EventError, Err: err}
		}
	}()
	return &eventStream{ctx: streamCtx, cancel: cancel, events: ch}
}

func (s *eventStream) Recv() (Event, error) {
	// Drain any buffered event before checking ctx.Done() so a Done or Meta
	// that raced with cancellation is not dropped.
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return Event{}, s.ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	}
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}
