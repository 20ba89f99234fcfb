package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(n int) Producer[int] {
	return func(ctx context.Context, yield func(int) error) error {
		for i := 0; i < n; i++ {
			if err := yield(i); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestNextDrainsInOrder(t *testing.T) {
	t.Parallel()

	s := New(counting(3))
	defer s.Close()

	ctx := context.Background()
	var got []int
	for {
		item, err := s.Next(ctx)
		if errors.Is(err, ErrDone) {
			break
		}
		require.NoError(t, err)
		got = append(got, item)
	}
	require.Equal(t, []int{0, 1, 2}, got)

	// Exhaustion is sticky.
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, ErrDone)
}

func TestEventsDeliversSameSequenceAsNext(t *testing.T) {
	t.Parallel()

	s := New(counting(3))
	defer s.Close()

	var got []int
	for ev := range s.Events(context.Background()) {
		require.NoError(t, ev.Err)
		got = append(got, ev.Item)
	}
	require.Equal(t, []int{0, 1, 2}, got)
}

func TestProducerDoesNotRunUntilConsumed(t *testing.T) {
	t.Parallel()

	ran := make(chan struct{})
	s := New(func(ctx context.Context, yield func(int) error) error {
		close(ran)
		return nil
	})
	defer s.Close()

	select {
	case <-ran:
		t.Fatal("producer ran before first pull")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrDone)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("producer never ran")
	}
}

func TestFailureAfterItemsYieldsItemsThenError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := New(func(ctx context.Context, yield func(int) error) error {
		for i := 0; i < 2; i++ {
			if err := yield(i); err != nil {
				return err
			}
		}
		return boom
	})
	defer s.Close()

	ctx := context.Background()
	first, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, first)

	second, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, boom)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, ErrDone)
}

func TestEventsDeliversErrorLast(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := New(func(ctx context.Context, yield func(int) error) error {
		if err := yield(7); err != nil {
			return err
		}
		return boom
	})
	defer s.Close()

	var events []Event[int]
	for ev := range s.Events(context.Background()) {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, 7, events[0].Item)
	assert.NoError(t, events[0].Err)
	assert.ErrorIs(t, events[1].Err, boom)
}

func TestMixingConsumptionStylesPanics(t *testing.T) {
	t.Parallel()

	s := New(counting(3))
	defer s.Close()

	_, err := s.Next(context.Background())
	require.NoError(t, err)

	assert.Panics(t, func() {
		s.Events(context.Background())
	})
}

func TestEventsThenNextPanics(t *testing.T) {
	t.Parallel()

	s := New(counting(3))
	defer s.Close()

	s.Events(context.Background())
	assert.Panics(t, func() {
		_, _ = s.Next(context.Background())
	})
}

func TestCloseReclaimsBlockedProducer(t *testing.T) {
	t.Parallel()

	exited := make(chan struct{})
	s := New(func(ctx context.Context, yield func(int) error) error {
		defer close(exited)
		for i := 0; ; i++ {
			if err := yield(i); err != nil {
				return err
			}
		}
	})

	_, err := s.Next(context.Background())
	require.NoError(t, err)

	s.Close()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("producer goroutine leaked after Close")
	}

	// Close is idempotent.
	s.Close()
}

func TestCloseBeforeFirstPull(t *testing.T) {
	t.Parallel()

	s := New(counting(3))
	s.Close()

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrDone)
}

func TestNextHonorsCallerContext(t *testing.T) {
	t.Parallel()

	s := New(func(ctx context.Context, yield func(int) error) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFromSlice(t *testing.T) {
	t.Parallel()

	s := FromSlice([]string{"a", "b"})
	defer s.Close()

	ctx := context.Background()
	first, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first)

	second, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, ErrDone)
}
