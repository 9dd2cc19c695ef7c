// Package fetchcache is the deduplicating artifact cache used for thumbnails.
//
// A fetch is keyed by a stable string (for thumbnails "itemType__itemID").
// For every key there is at most one outstanding transport call: a second
// Fetch for a key that is already in flight only attaches another waiter, and
// all waiters receive the same terminal Result. Successful payloads are
// written to one file per key under the configured directory using a temp
// file and rename, so readers never see a half-written artifact and a
// restarted process reuses what is already on disk.
//
// All methods of Cache must be called on the async.Loop the cache was
// created with; notifications are delivered on that loop as well.
//
// # Basic Usage
//
//	thumbs, err := fetchcache.New(loop, client, fetchcache.DefaultConfig(dir), logger)
//	...
//	loop.Post(func() {
//		thumbs.Fetch("PSScene__20240101_101010_0f1a", fetchcache.Locator{URL: thumbURL},
//			func(res fetchcache.Result) {
//				if res.Status == fetchcache.StatusAvailable {
//					// res.Path is ready to read
//				}
//			})
//	})
//
// # Metrics
//
//   - fetchcache_fetches_total{outcome} - hit, available, failed, timed_out, cancelled
//   - fetchcache_dedup_total - Fetch calls attached to an in-flight key
//   - fetchcache_bytes_written_total - artifact bytes written to disk
//   - fetchcache_in_flight - keys with an outstanding transport call
package fetchcache
