package async

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for watched operations.
var (
	watcherOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_operations_total",
		Help: "Total watched operations by watcher and terminal outcome",
	}, []string{"watcher", "outcome"})

	watcherOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "watcher_operation_duration_seconds",
		Help:    "Time from registration to terminal event by watcher",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"watcher"})
)

// NoActiveOperation is returned by TimeRemaining for unknown or terminal ids.
const NoActiveOperation time.Duration = -1

// EventKind identifies a watcher event.
type EventKind int

const (
	// EventRegistered is emitted when an operation starts.
	EventRegistered EventKind = iota

	// EventFinished carries the transport result.
	EventFinished

	// EventCancelled is emitted for an explicit cancel.
	EventCancelled

	// EventTimedOut is emitted when the timeout elapsed first.
	EventTimedOut
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventFinished:
		return "finished"
	case EventCancelled:
		return "cancelled"
	case EventTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends an operation.
func (k EventKind) Terminal() bool {
	return k != EventRegistered
}

// Event is delivered on the loop for every state change of an operation.
type Event[T any] struct {
	Kind    EventKind
	ID      string
	Result  T
	Failure *Failure
	Elapsed time.Duration
}

// Operation describes a registered operation.
type Operation struct {
	ID        string
	Timeout   time.Duration
	StartedAt time.Time
}

type operation[T any] struct {
	Operation
	handler func(Event[T])
	cancel  context.CancelFunc
	timer   *time.Timer
}

// Watcher supervises outstanding operations keyed by id. All methods must be
// called on the loop the watcher was created with.
type Watcher[T any] struct {
	loop     *Loop
	name     string
	logger   zerolog.Logger
	ops      map[string]*operation[T]
	listener func(Event[T])
}

// NewWatcher creates a watcher bound to loop. name labels metrics and logs.
func NewWatcher[T any](loop *Loop, name string, logger zerolog.Logger) *Watcher[T] {
	return &Watcher[T]{
		loop:   loop,
		name:   name,
		logger: logger.With().Str("watcher", name).Logger(),
		ops:    make(map[string]*operation[T]),
	}
}

// OnEvent attaches a listener that sees every event of every operation after
// the operation's own handler.
func (w *Watcher[T]) OnEvent(fn func(Event[T])) {
	w.listener = fn
}

// Register starts supervising id. An empty id gets a generated one. A timeout
// of zero or less disables the timer.
func (w *Watcher[T]) Register(id string, timeout time.Duration, handler func(Event[T])) (Operation, error) {
	op, err := w.register(id, timeout, handler, nil)
	if err != nil {
		return Operation{}, err
	}
	return op.Operation, nil
}

// Start registers id and runs call on a worker goroutine. The context passed
// to call is cancelled when the operation is cancelled or times out.
func (w *Watcher[T]) Start(ctx context.Context, id string, timeout time.Duration, call func(context.Context) (T, error), handler func(Event[T])) (Operation, error) {
	callCtx, cancel := context.WithCancel(ctx)
	op, err := w.register(id, timeout, handler, cancel)
	if err != nil {
		cancel()
		return Operation{}, err
	}

	go func() {
		result, err := call(callCtx)
		if !w.loop.Post(func() { w.deliver(op, result, err) }) {
			cancel()
		}
	}()

	return op.Operation, nil
}

func (w *Watcher[T]) register(id string, timeout time.Duration, handler func(Event[T]), cancel context.CancelFunc) (*operation[T], error) {
	if id == "" {
		id = "anon-" + uuid.NewString()
	}
	if _, exists := w.ops[id]; exists {
		return nil, ErrOperationActive
	}

	op := &operation[T]{
		Operation: Operation{
			ID:        id,
			Timeout:   timeout,
			StartedAt: time.Now(),
		},
		handler: handler,
		cancel:  cancel,
	}
	w.ops[id] = op

	if timeout > 0 {
		op.timer = time.AfterFunc(timeout, func() {
			w.loop.Post(func() { w.expire(op) })
		})
	}

	w.logger.Debug().
		Str("operation_id", id).
		Dur("timeout", timeout).
		Msg("Operation registered")

	w.emit(op, Event[T]{Kind: EventRegistered, ID: id})
	return op, nil
}

// Cancel aborts id and emits EventCancelled. Returns false for unknown or
// already terminal ids.
func (w *Watcher[T]) Cancel(id string) bool {
	op, ok := w.ops[id]
	if !ok {
		return false
	}
	w.finish(op)

	w.logger.Debug().Str("operation_id", id).Msg("Operation cancelled")
	w.emit(op, Event[T]{
		Kind:    EventCancelled,
		ID:      id,
		Failure: NewFailure(KindCancelled, "operation cancelled by caller", context.Canceled),
		Elapsed: time.Since(op.StartedAt),
	})
	return true
}

// CancelAll cancels every active operation.
func (w *Watcher[T]) CancelAll() int {
	ids := make([]string, 0, len(w.ops))
	for id := range w.ops {
		ids = append(ids, id)
	}
	n := 0
	for _, id := range ids {
		if w.Cancel(id) {
			n++
		}
	}
	return n
}

// OnTransportResult delivers the transport outcome for id. The result is
// passed through uninterpreted; err, when set, is attached as a Failure.
// Returns false for unknown or already terminal ids.
func (w *Watcher[T]) OnTransportResult(id string, result T, err error) bool {
	op, ok := w.ops[id]
	if !ok {
		return false
	}
	w.finish(op)

	ev := Event[T]{
		Kind:    EventFinished,
		ID:      id,
		Result:  result,
		Elapsed: time.Since(op.StartedAt),
	}
	if err != nil {
		ev.Failure = AsFailure(err)
	}
	w.emit(op, ev)
	return true
}

// deliver routes a worker result to the operation that started it. A newer
// operation that reused the id is left alone.
func (w *Watcher[T]) deliver(op *operation[T], result T, err error) {
	if current, ok := w.ops[op.ID]; !ok || current != op {
		w.logger.Debug().Str("operation_id", op.ID).Msg("Dropping late transport result")
		return
	}
	w.OnTransportResult(op.ID, result, err)
}

func (w *Watcher[T]) expire(op *operation[T]) {
	if current, ok := w.ops[op.ID]; !ok || current != op {
		return
	}
	w.finish(op)

	w.logger.Warn().
		Str("operation_id", op.ID).
		Dur("timeout", op.Timeout).
		Msg("Operation timed out")

	w.emit(op, Event[T]{
		Kind:    EventTimedOut,
		ID:      op.ID,
		Failure: NewFailure(KindTimeout, "no response within "+op.Timeout.String(), context.DeadlineExceeded),
		Elapsed: time.Since(op.StartedAt),
	})
}

// finish marks op terminal: stops its timer, cancels the in-flight call and
// forgets it.
func (w *Watcher[T]) finish(op *operation[T]) {
	if op.timer != nil {
		op.timer.Stop()
	}
	if op.cancel != nil {
		op.cancel()
	}
	delete(w.ops, op.ID)
}

// TimeRemaining returns how long id has left before timing out. Unknown and
// terminal ids, and operations without a timeout, report NoActiveOperation.
func (w *Watcher[T]) TimeRemaining(id string) time.Duration {
	op, ok := w.ops[id]
	if !ok {
		return NoActiveOperation
	}
	if op.Timeout <= 0 {
		return NoActiveOperation
	}
	remaining := op.Timeout - time.Since(op.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsActive reports whether id has an outstanding operation.
func (w *Watcher[T]) IsActive(id string) bool {
	_, ok := w.ops[id]
	return ok
}

// Active returns the number of outstanding operations.
func (w *Watcher[T]) Active() int {
	return len(w.ops)
}

func (w *Watcher[T]) emit(op *operation[T], ev Event[T]) {
	if ev.Kind.Terminal() {
		watcherOperationsTotal.WithLabelValues(w.name, ev.Kind.String()).Inc()
		watcherOperationDuration.WithLabelValues(w.name).Observe(ev.Elapsed.Seconds())
	}
	if op.handler != nil {
		op.handler(ev)
	}
	if w.listener != nil {
		w.listener(ev)
	}
}
