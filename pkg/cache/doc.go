// Package cache provides the layered HTTP response cache used by the
// transport client.
//
// Responses to GET requests against the catalog are kept in two layers:
//
//   - an in-process memory layer (github.com/patrickmn/go-cache) with a short
//     TTL, so repeated lookups within one session never leave the process;
//   - an optional Redis layer shared by every process that points at the same
//     Redis instance.
//
// Entries honour the upstream Expires header and keep ETag/Last-Modified so
// the transport can issue conditional requests and reuse the cached body on a
// 304 Not Modified.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, 60*time.Second) // redisClient may be nil
//
//	key := cache.CacheKey{
//		Method:      http.MethodGet,
//		Endpoint:    "/basemaps/v1/mosaics/abc/quads",
//		QueryParams: url.Values{"bbox": []string{"-10,-10,10,10"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from upstream, then:
//		entry = cache.NewEntry(resp.StatusCode, resp.Header, body)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// # Metrics
//
//   - catalog_response_cache_hits_total{layer} - hits by layer (memory, redis)
//   - catalog_response_cache_misses_total - misses across both layers
//   - catalog_response_cache_size_bytes{layer} - bytes written by layer
//   - catalog_304_responses_total - conditional request successes
//   - catalog_conditional_requests_total - conditional requests sent
//   - catalog_response_cache_errors_total{operation} - cache operation errors
//
// The artifact cache for thumbnails lives in pkg/fetchcache; this package
// only deals with API responses.
package cache
