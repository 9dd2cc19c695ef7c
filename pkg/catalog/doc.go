// Package catalog builds requests for the imagery catalog API and decodes its
// responses.
//
// The package does no I/O. Requests are returned as *transport.Request values
// and responses are parsed from *transport.Response, so the coordination
// layers decide where and when a call runs.
//
// Endpoints used:
//   - POST /data/v1/quick-search   first page of a search
//   - GET  <_links._next>          following pages
//   - POST /data/v1/stats          aggregate count for a query
//   - GET  /basemaps/v1/mosaics/{id}/quads   mosaic quads, paginated
//
// Decoding failures wrap async.ErrMalformed. Non-2xx responses are returned
// as *transport.HTTPError.
package catalog
