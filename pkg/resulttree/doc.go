// Package resulttree turns paginated catalog search results into a grouped,
// incrementally loaded tree.
//
// Leaves are grouped by (acquisition day, item type) and optionally by
// satellite. When the backend reports another page the tree ends with a
// load-more placeholder showing "loaded / total"; LoadMore consumes it.
// Pages load strictly one at a time.
//
// Check states are tri-state: setting a node propagates down to downloadable
// leaves and every ancestor group is then recomputed from its children. The
// propagation is implemented by the pure functions PropagateDown,
// RecomputeUp and GroupState.
//
// Tree is not safe for concurrent use: every method must run on the
// async.Loop it was created with, and events are delivered there too.
package resulttree
