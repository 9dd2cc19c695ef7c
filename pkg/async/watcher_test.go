package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects events; it is only touched on the loop.
type recorder[T any] struct {
	events []Event[T]
}

func (r *recorder[T]) handle(ev Event[T]) {
	r.events = append(r.events, ev)
}

func (r *recorder[T]) kinds() []EventKind {
	kinds := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *recorder[T]) count(kind EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func snapshot[T any](t *testing.T, l *Loop, r *recorder[T]) []EventKind {
	t.Helper()
	var kinds []EventKind
	require.NoError(t, l.Do(func() { kinds = r.kinds() }))
	return kinds
}

func TestWatcher_FinishedOnce(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[string](l, "test", zerolog.Nop())
	rec := &recorder[string]{}

	require.NoError(t, l.Do(func() {
		_, err := w.Register("item:1", time.Minute, rec.handle)
		assert.NoError(t, err)

		assert.True(t, w.OnTransportResult("item:1", "payload", nil))
		assert.False(t, w.OnTransportResult("item:1", "again", nil))
		assert.False(t, w.Cancel("item:1"), "cancel after completion is a no-op")
		assert.False(t, w.IsActive("item:1"))
	}))

	assert.Equal(t, []EventKind{EventRegistered, EventFinished}, snapshot(t, l, rec))
	require.NoError(t, l.Do(func() {
		assert.Equal(t, "payload", rec.events[1].Result)
		assert.Nil(t, rec.events[1].Failure)
	}))
}

func TestWatcher_TransportErrorIsCarried(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[[]byte](l, "test", zerolog.Nop())
	rec := &recorder[[]byte]{}

	require.NoError(t, l.Do(func() {
		_, err := w.Register("page-1", time.Minute, rec.handle)
		assert.NoError(t, err)
		w.OnTransportResult("page-1", nil, errors.New("connection reset"))
	}))

	require.NoError(t, l.Do(func() {
		assert.Len(t, rec.events, 2)
		ev := rec.events[1]
		assert.Equal(t, EventFinished, ev.Kind)
		assert.NotNil(t, ev.Failure)
		assert.Equal(t, KindTransport, ev.Failure.Kind)
	}))
}

func TestWatcher_CancelIdempotent(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[int](l, "test", zerolog.Nop())
	rec := &recorder[int]{}

	require.NoError(t, l.Do(func() {
		_, err := w.Register("op", time.Minute, rec.handle)
		assert.NoError(t, err)

		assert.True(t, w.Cancel("op"))
		assert.False(t, w.Cancel("op"))
		assert.False(t, w.Cancel("unknown"))
		assert.False(t, w.OnTransportResult("op", 1, nil))
	}))

	assert.Equal(t, []EventKind{EventRegistered, EventCancelled}, snapshot(t, l, rec))
}

func TestWatcher_TimeoutEmitsOnlyTimedOut(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[int](l, "test", zerolog.Nop())
	rec := &recorder[int]{}

	start := time.Now()
	var timedOutAt time.Time
	require.NoError(t, l.Do(func() {
		_, err := w.Register("slow", 50*time.Millisecond, func(ev Event[int]) {
			rec.handle(ev)
			if ev.Kind == EventTimedOut {
				timedOutAt = time.Now()
			}
		})
		assert.NoError(t, err)
	}))

	require.Eventually(t, func() bool {
		var n int
		_ = l.Do(func() { n = rec.count(EventTimedOut) })
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Give a stray second event a chance to show up.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, l.Do(func() {
		assert.Equal(t, 1, rec.count(EventTimedOut))
		assert.Equal(t, 0, rec.count(EventFinished))
		assert.Equal(t, 0, rec.count(EventCancelled))
		assert.GreaterOrEqual(t, timedOutAt.Sub(start), 50*time.Millisecond)
		assert.Equal(t, KindTimeout, rec.events[1].Failure.Kind)

		// A result arriving after the timeout is dropped.
		assert.False(t, w.OnTransportResult("slow", 1, nil))
		assert.False(t, w.Cancel("slow"))
	}))
}

func TestWatcher_DuplicateID(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[int](l, "test", zerolog.Nop())

	require.NoError(t, l.Do(func() {
		_, err := w.Register("dup", 0, nil)
		assert.NoError(t, err)
		_, err = w.Register("dup", 0, nil)
		assert.ErrorIs(t, err, ErrOperationActive)
		w.CancelAll()
	}))
}

func TestWatcher_AnonymousIDs(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[int](l, "test", zerolog.Nop())

	require.NoError(t, l.Do(func() {
		a, err := w.Register("", 0, nil)
		assert.NoError(t, err)
		b, err := w.Register("", 0, nil)
		assert.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, 2, w.Active())
		assert.Equal(t, 2, w.CancelAll())
		assert.Equal(t, 0, w.Active())
	}))
}

func TestWatcher_TimeRemaining(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[int](l, "test", zerolog.Nop())

	require.NoError(t, l.Do(func() {
		assert.Equal(t, NoActiveOperation, w.TimeRemaining("nope"))

		_, err := w.Register("op", time.Hour, nil)
		assert.NoError(t, err)
		remaining := w.TimeRemaining("op")
		assert.Greater(t, remaining, 59*time.Minute)
		assert.LessOrEqual(t, remaining, time.Hour)

		w.Cancel("op")
		assert.Equal(t, NoActiveOperation, w.TimeRemaining("op"))
	}))
}

func TestWatcher_StartDeliversResult(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[string](l, "test", zerolog.Nop())
	rec := &recorder[string]{}

	require.NoError(t, l.Do(func() {
		_, err := w.Start(context.Background(), "fetch", time.Second,
			func(ctx context.Context) (string, error) { return "ok", nil },
			rec.handle)
		assert.NoError(t, err)
	}))

	require.Eventually(t, func() bool {
		return len(snapshot(t, l, rec)) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Do(func() {
		assert.Equal(t, EventFinished, rec.events[1].Kind)
		assert.Equal(t, "ok", rec.events[1].Result)
	}))
}

func TestWatcher_CancelAbortsInFlightCall(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[string](l, "test", zerolog.Nop())
	rec := &recorder[string]{}

	callReturned := make(chan error, 1)
	started := make(chan struct{})
	require.NoError(t, l.Do(func() {
		_, err := w.Start(context.Background(), "blocked", 0,
			func(ctx context.Context) (string, error) {
				close(started)
				<-ctx.Done()
				callReturned <- ctx.Err()
				return "", ctx.Err()
			},
			rec.handle)
		assert.NoError(t, err)
	}))

	<-started
	require.NoError(t, l.Do(func() { w.Cancel("blocked") }))

	select {
	case err := <-callReturned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("transport call was not cancelled")
	}

	// Let the late result reach the loop and be dropped.
	require.NoError(t, l.Do(func() {}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []EventKind{EventRegistered, EventCancelled}, snapshot(t, l, rec))
}

func TestWatcher_TimeoutCancelsInFlightCall(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[string](l, "test", zerolog.Nop())
	rec := &recorder[string]{}

	callReturned := make(chan struct{})
	require.NoError(t, l.Do(func() {
		_, err := w.Start(context.Background(), "hang", 30*time.Millisecond,
			func(ctx context.Context) (string, error) {
				defer close(callReturned)
				<-ctx.Done()
				return "", ctx.Err()
			},
			rec.handle)
		assert.NoError(t, err)
	}))

	select {
	case <-callReturned:
	case <-time.After(time.Second):
		t.Fatal("timeout did not cancel the transport call")
	}

	require.Eventually(t, func() bool {
		kinds := snapshot(t, l, rec)
		return len(kinds) == 2 && kinds[1] == EventTimedOut
	}, time.Second, 5*time.Millisecond)
}

func TestWatcher_ListenerSeesAllEvents(t *testing.T) {
	l := newTestLoop(t)
	w := NewWatcher[int](l, "test", zerolog.Nop())
	all := &recorder[int]{}
	w.OnEvent(all.handle)

	require.NoError(t, l.Do(func() {
		_, _ = w.Register("a", 0, nil)
		_, _ = w.Register("b", 0, nil)
		w.OnTransportResult("a", 1, nil)
		w.Cancel("b")
	}))

	kinds := snapshot(t, l, all)
	assert.Len(t, kinds, 4)
}
