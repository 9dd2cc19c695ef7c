package async

import (
	"sync"

	"github.com/rs/zerolog"
)

// Loop is the single coordination goroutine. Functions posted to it run one at
// a time, in the order they were posted.
type Loop struct {
	logger zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	started bool
	stopped bool
	done    chan struct{}
}

// NewLoop creates a stopped loop. Call Start before posting work.
func NewLoop(logger zerolog.Logger) *Loop {
	l := &Loop{
		logger: logger,
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the coordination goroutine. Calling Start twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Stop ends the loop after the function currently running returns. Work that
// was posted before Stop still runs; later posts are rejected. Stop blocks
// until the goroutine has exited.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	started := l.started
	l.cond.Broadcast()
	l.mu.Unlock()

	if !started {
		close(l.done)
		return
	}
	<-l.done
}

// Post enqueues fn. It never blocks and is safe from any goroutine.
// Returns false when the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Do posts fn and waits for it to finish. It must not be called from a
// function that is itself running on the loop.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop drains queued work before exiting, so fn has either run
		// or the loop died inside it.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Pending returns the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.stopped {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
	}
}

// invoke runs fn and keeps the loop alive if it panics.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Interface("panic", r).
				Msg("Recovered panic on coordination loop")
		}
	}()
	fn()
}
