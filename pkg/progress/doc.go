// Package progress fetches every page of several parent resources in order
// and reports progress while doing so.
//
// Resources are processed one after another and the pages of a resource are
// fetched one at a time, each supervised by its own async.Watcher operation
// with a per-page timeout. Progress events are delivered on the coordination
// loop in resource order, then page order.
//
// Example usage:
//
//	fetcher := progress.New[catalog.Quad](loop, client, progress.DefaultConfig(), logger)
//	result, err := fetcher.Run(ctx, []progress.Resource{{ID: "m1", Name: "m1"}},
//		&catalog.QuadPaginator{Client: cat, BBox: bbox},
//		func(ev progress.Event) { ... })
//
// The fetcher:
//   - Emits ResourceStarted before the first page of each resource
//   - Emits PageRead after every page with the number of items read
//   - Stops at the first failed or timed out page and returns partial results
//   - Honours Cancel between pages: the in-flight page completes and is kept,
//     no further page or resource is started and Done is not emitted
package progress
