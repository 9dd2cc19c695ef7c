package async

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(zerolog.Nop())
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestLoop_RunsInPostOrder(t *testing.T) {
	l := newTestLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_SingleWriter(t *testing.T) {
	l := newTestLoop(t)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = l.Do(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	require.NoError(t, l.Do(func() {}))
	assert.Equal(t, 1000, counter)
}

func TestLoop_StopRejectsPosts(t *testing.T) {
	l := NewLoop(zerolog.Nop())
	l.Start()

	ran := false
	require.True(t, l.Post(func() { ran = true }))
	l.Stop()

	assert.True(t, ran, "work posted before Stop should run")
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(func() {}), ErrLoopStopped)

	// Stop is idempotent.
	l.Stop()
}

func TestLoop_StopWithoutStart(t *testing.T) {
	l := NewLoop(zerolog.Nop())
	l.Stop()
	assert.False(t, l.Post(func() {}))
}

func TestLoop_RecoversPanics(t *testing.T) {
	l := newTestLoop(t)

	require.NoError(t, l.Do(func() { panic("boom") }))

	ran := false
	require.NoError(t, l.Do(func() { ran = true }))
	assert.True(t, ran)
}
