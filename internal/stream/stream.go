// Package stream provides a lazy, single-producer record stream with two
// consumption styles: blocking pulls via Next and channel delivery via
// Events. A stream handle commits to one style on first use.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrDone signals clean exhaustion of a stream.
var ErrDone = errors.New("stream: no more items")

// Producer generates items, delivering each through yield. It must return
// promptly when yield reports an error or ctx is cancelled. A nil return
// means clean exhaustion; any other error terminates the stream with that
// error.
type Producer[T any] func(ctx context.Context, yield func(T) error) error

// Event is one delivery on the Events channel: an item, or a terminal
// error. At most one Err event is delivered, always last.
type Event[T any] struct {
	Item T
	Err  error
}

type mode int

const (
	modeUnset mode = iota
	modePull
	modeEvents
)

// Stream adapts a Producer into pull-based or channel-based consumption.
// The producer goroutine starts lazily on the first Next or Events call.
// Callers that abandon a stream before exhaustion must call Close to
// reclaim the producer goroutine.
type Stream[T any] struct {
	producer Producer[T]

	mu      sync.Mutex
	mode    mode
	started bool
	closed  bool
	events  chan Event[T]
	out     chan Event[T]
	pctx    context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wraps producer in a Stream. The producer does not run until the
// stream is first consumed.
func New[T any](producer Producer[T]) *Stream[T] {
	return &Stream[T]{producer: producer}
}

// FromSlice returns a stream that yields the given items in order.
func FromSlice[T any](items []T) *Stream[T] {
	return New(func(ctx context.Context, yield func(T) error) error {
		for _, item := range items {
			if err := yield(item); err != nil {
				return err
			}
		}
		return nil
	})
}

// startLocked launches the producer goroutine. Callers hold s.mu.
func (s *Stream[T]) startLocked() {
	if s.started || s.closed {
		return
	}
	s.started = true

	pctx, cancel := context.WithCancel(context.Background())
	s.pctx = pctx
	s.cancel = cancel
	s.events = make(chan Event[T])
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		defer close(s.events)

		err := s.producer(pctx, func(item T) error {
			select {
			case s.events <- Event[T]{Item: item}:
				return nil
			case <-pctx.Done():
				return pctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case s.events <- Event[T]{Err: err}:
			case <-pctx.Done():
			}
		}
	}()
}

// Next blocks until the next item is available. It returns ErrDone on
// clean exhaustion, the producer's error on failure, or ctx.Err() if the
// caller's context expires first. Next panics if Events was already used
// on this handle.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.mode == modeEvents {
		s.mu.Unlock()
		panic("stream: Next called after Events on the same stream")
	}
	s.mode = modePull
	if s.closed && !s.started {
		s.mu.Unlock()
		return zero, ErrDone
	}
	s.startLocked()
	events := s.events
	s.mu.Unlock()

	select {
	case ev, ok := <-events:
		if !ok {
			return zero, ErrDone
		}
		if ev.Err != nil {
			return zero, ev.Err
		}
		return ev.Item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Events returns a channel delivering every item as an Event, followed by
// at most one Event carrying the terminal error, then channel close. The
// channel also closes when ctx expires or the stream is closed. Events
// panics if Next was already used on this handle, or on a repeat call.
func (s *Stream[T]) Events(ctx context.Context) <-chan Event[T] {
	s.mu.Lock()
	if s.mode == modePull {
		s.mu.Unlock()
		panic("stream: Events called after Next on the same stream")
	}
	if s.out != nil {
		s.mu.Unlock()
		panic("stream: Events called twice on the same stream")
	}
	s.mode = modeEvents
	out := make(chan Event[T])
	s.out = out
	if s.closed && !s.started {
		s.mu.Unlock()
		close(out)
		return out
	}
	s.startLocked()
	events := s.events
	pctx := s.pctx
	s.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-pctx.Done():
					return
				}
			case <-ctx.Done():
				return
			case <-pctx.Done():
				return
			}
		}
	}()
	return out
}

// Close cancels the producer and waits for its goroutine to exit. It is
// idempotent and safe to call on a never-consumed stream.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
