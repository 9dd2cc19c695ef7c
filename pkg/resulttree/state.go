package resulttree

// State is the paging state of a tree, and of its load-more placeholder.
type State int

const (
	StateEmpty State = iota
	StatePageRequested
	StatePagePopulated
	StatePageFailed
	StatePageTimedOut
	StatePageCancelled
	// StateExhausted means every page was read and at least one item arrived.
	StateExhausted
	// StateNoResults means the search matched nothing.
	StateNoResults
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePageRequested:
		return "page_requested"
	case StatePagePopulated:
		return "page_populated"
	case StatePageFailed:
		return "page_failed"
	case StatePageTimedOut:
		return "page_timed_out"
	case StatePageCancelled:
		return "page_cancelled"
	case StateExhausted:
		return "exhausted"
	case StateNoResults:
		return "no_results"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further page can be loaded.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateNoResults
}

// canLoadMore reports whether a placeholder in state s may request a page.
func (s State) canLoadMore() bool {
	switch s {
	case StatePagePopulated, StatePageFailed, StatePageTimedOut, StatePageCancelled:
		return true
	}
	return false
}

// EventKind identifies a tree event.
type EventKind int

const (
	// EventStateChanged carries the new paging state and, for failed,
	// timed out and cancelled pages, the failure.
	EventStateChanged EventKind = iota
	EventNodeAdded
	EventNodeRemoved
	EventNodeChanged
	// EventCountFailed reports that the aggregate count could not be read.
	EventCountFailed
	// EventCountReceived reports that Total is known.
	EventCountReceived
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventNodeAdded:
		return "node_added"
	case EventNodeRemoved:
		return "node_removed"
	case EventNodeChanged:
		return "node_changed"
	case EventCountFailed:
		return "count_failed"
	case EventCountReceived:
		return "count_received"
	default:
		return "unknown"
	}
}
