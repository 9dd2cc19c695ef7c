// Package async supervises outstanding network calls for the catalog explorer.
//
// It provides three pieces that the rest of the module builds on:
//
//   - Loop, the single coordination goroutine. Every piece of bookkeeping
//     (watcher operations, fetch queues, tree nodes) is mutated only by
//     functions running on the loop. Worker goroutines post their results back
//     with Post, so handlers never race with each other.
//   - Watcher, which wraps one in-flight call per operation id with a timeout
//     and cancellation, and reports exactly one terminal event per operation.
//   - Failure, the error taxonomy shared by every component: transport,
//     timeout, cancelled and malformed_response.
//
// # Basic Usage
//
//	loop := async.NewLoop(logging.NewLogger(logging.ComponentLoop))
//	loop.Start()
//	defer loop.Stop()
//
//	w := async.NewWatcher[*transport.Response](loop, "thumbnails", logger)
//	loop.Do(func() {
//		_, err := w.Start(ctx, "PSScene__2024", 30*time.Second,
//			func(ctx context.Context) (*transport.Response, error) {
//				return dispatcher.Dispatch(ctx, req)
//			},
//			func(ev async.Event[*transport.Response]) {
//				// runs on the loop
//			})
//		...
//	})
//
// # Terminal Events
//
// An operation ends with exactly one of EventFinished, EventCancelled or
// EventTimedOut. Cancelling an unknown or already finished operation is a
// no-op, and a transport result arriving after a cancel or timeout is dropped.
package async
