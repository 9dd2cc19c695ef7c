package resulttree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/fetchcache"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "resulttree_pages_total",
	Help: "Search pages by outcome",
}, []string{"outcome"})

// Common errors.
var (
	ErrNoMorePages  = errors.New("no more pages")
	ErrPageInFlight = errors.New("page request in flight")
	ErrUnknownNode  = errors.New("node is not part of the tree")
	ErrNotCheckable = errors.New("node cannot be checked")
)

// UnknownTotal is reported by Total before the aggregate count arrived.
const UnknownTotal = -1

// Event is delivered on the loop for every tree change.
type Event struct {
	Kind    EventKind
	Node    *Node
	State   State
	Failure *async.Failure
}

// Source builds and decodes catalog calls. catalog.Client implements it.
type Source interface {
	SearchRequest(q catalog.Query, sort catalog.Sort, pageSize int) (*transport.Request, error)
	NextPageRequest(next string) (*transport.Request, error)
	ParsePage(resp *transport.Response) (*catalog.Page, error)
	CountRequest(q catalog.Query) (*transport.Request, error)
	ParseCount(resp *transport.Response) (int, error)
	ThumbnailLocator(item catalog.Item, width int) fetchcache.Locator
}

// Config configures a Tree.
type Config struct {
	PageSize     int
	PageTimeout  time.Duration
	CountTimeout time.Duration

	// GroupBySatellite nests a satellite group under every date/type group.
	GroupBySatellite bool

	// AutoThumbnails requests a thumbnail for every inserted leaf.
	AutoThumbnails bool
	ThumbnailWidth int
}

// DefaultConfig returns the default tree configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:       catalog.DefaultPageSize,
		PageTimeout:    30 * time.Second,
		CountTimeout:   15 * time.Second,
		AutoThumbnails: true,
		ThumbnailWidth: 256,
	}
}

// Tree is a lazily paginated, grouped view of one search. All methods must
// be called on the loop the tree was created with.
type Tree struct {
	loop       *async.Loop
	dispatcher transport.Dispatcher
	source     Source
	thumbs     *fetchcache.Cache
	config     Config
	logger     zerolog.Logger

	pages  *async.Watcher[*catalog.Page]
	counts *async.Watcher[int]

	root     *Node
	loadMore *Node
	index    map[string]*Node
	groups   map[string]*Node

	state     State
	failure   *async.Failure
	query     catalog.Query
	sort      catalog.Sort
	next      string
	pagesRead int
	loaded    int
	total     int

	// generation invalidates callbacks that belong to a previous search.
	generation   int
	thumbTickets map[string]fetchcache.Ticket
	subscribers  []func(Event)
}

// New creates an empty tree. thumbs may be nil to disable thumbnails.
func New(loop *async.Loop, dispatcher transport.Dispatcher, source Source, thumbs *fetchcache.Cache, cfg Config, logger zerolog.Logger) (*Tree, error) {
	if loop == nil {
		return nil, fmt.Errorf("loop is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("page_size must be >= 0 (got %d)", cfg.PageSize)
	}
	if cfg.PageTimeout < 0 || cfg.CountTimeout < 0 {
		return nil, fmt.Errorf("timeouts must be >= 0")
	}

	return &Tree{
		loop:         loop,
		dispatcher:   dispatcher,
		source:       source,
		thumbs:       thumbs,
		config:       cfg,
		logger:       logger,
		pages:        async.NewWatcher[*catalog.Page](loop, "resulttree-page", logger),
		counts:       async.NewWatcher[int](loop, "resulttree-count", logger),
		root:         &Node{Kind: KindRoot},
		index:        make(map[string]*Node),
		groups:       make(map[string]*Node),
		thumbTickets: make(map[string]fetchcache.Ticket),
		total:        UnknownTotal,
	}, nil
}

// Subscribe registers fn for every tree event.
func (t *Tree) Subscribe(fn func(Event)) {
	t.subscribers = append(t.subscribers, fn)
}

// StartSearch cancels outstanding work, empties the tree and requests the
// aggregate count and the first page of q.
func (t *Tree) StartSearch(q catalog.Query, sort catalog.Sort) error {
	if sort == "" {
		sort = catalog.SortAcquiredDesc
	}
	countReq, err := t.source.CountRequest(q)
	if err != nil {
		return fmt.Errorf("build count request: %w", err)
	}
	pageReq, err := t.source.SearchRequest(q, sort, t.config.PageSize)
	if err != nil {
		return fmt.Errorf("build search request: %w", err)
	}

	t.generation++
	t.cancelOutstanding()
	t.truncate()
	t.query, t.sort = q, sort

	t.logger.Info().
		Strs("item_types", q.ItemTypes).
		Str("sort", string(sort)).
		Msg("Search started")

	gen := t.generation
	if _, err := t.counts.Start(context.Background(), "count", t.config.CountTimeout,
		func(ctx context.Context) (int, error) {
			resp, err := t.dispatcher.Dispatch(ctx, countReq)
			if err != nil {
				return 0, err
			}
			return t.source.ParseCount(resp)
		},
		func(ev async.Event[int]) { t.onCount(gen, ev) }); err != nil {
		return err
	}

	return t.requestPage(pageReq)
}

// LoadMore requests the next page. It fails with ErrPageInFlight while a page
// is outstanding and with ErrNoMorePages unless the tree ends in a load-more
// placeholder that is idle or failed.
func (t *Tree) LoadMore() error {
	if t.pages.Active() > 0 {
		return ErrPageInFlight
	}
	if t.loadMore == nil || t.next == "" || !t.loadMore.PageState.canLoadMore() {
		return ErrNoMorePages
	}

	req, err := t.source.NextPageRequest(t.next)
	if err != nil {
		return err
	}

	t.loadMore.PageState = StatePageRequested
	t.loadMore.Failure = nil
	t.emit(Event{Kind: EventNodeChanged, Node: t.loadMore})
	return t.requestPage(req)
}

// Cancel aborts the outstanding page and the count, and releases every
// thumbnail this tree is waiting for. A thumbnail fetch that another consumer
// of the cache is also waiting for keeps running. Loaded nodes stay.
func (t *Tree) Cancel() {
	pages := t.pages.CancelAll()
	counts := t.counts.CancelAll()
	thumbs := t.cancelThumbnails()
	t.logger.Debug().
		Int("pages", pages).
		Int("counts", counts).
		Int("thumbnails", thumbs).
		Msg("Tree operations cancelled")
}

func (t *Tree) cancelOutstanding() {
	t.pages.CancelAll()
	t.counts.CancelAll()
	t.cancelThumbnails()
}

func (t *Tree) cancelThumbnails() int {
	if t.thumbs == nil {
		return 0
	}
	tickets := make([]fetchcache.Ticket, 0, len(t.thumbTickets))
	for _, ticket := range t.thumbTickets {
		tickets = append(tickets, ticket)
	}
	n := 0
	for _, ticket := range tickets {
		if t.thumbs.Release(ticket) {
			n++
		}
	}
	t.thumbTickets = make(map[string]fetchcache.Ticket)
	return n
}

func (t *Tree) truncate() {
	for _, child := range t.root.Children() {
		t.root.removeChild(child)
		t.emit(Event{Kind: EventNodeRemoved, Node: child})
	}
	t.root.Check = Unchecked
	t.root.Bounds = catalog.Bounds{}
	t.loadMore = nil
	t.index = make(map[string]*Node)
	t.groups = make(map[string]*Node)
	t.thumbTickets = make(map[string]fetchcache.Ticket)
	t.next = ""
	t.pagesRead = 0
	t.loaded = 0
	t.total = UnknownTotal
	t.setState(StateEmpty, nil)
}

func (t *Tree) requestPage(req *transport.Request) error {
	gen := t.generation
	id := fmt.Sprintf("page-%d", t.pagesRead+1)

	_, err := t.pages.Start(context.Background(), id, t.config.PageTimeout,
		func(ctx context.Context) (*catalog.Page, error) {
			resp, err := t.dispatcher.Dispatch(ctx, req)
			if err != nil {
				return nil, err
			}
			return t.source.ParsePage(resp)
		},
		func(ev async.Event[*catalog.Page]) { t.onPage(gen, ev) })
	if err != nil {
		return err
	}

	t.logger.Debug().Str("operation_id", id).Str("url", req.URL).Msg("Page requested")
	t.setState(StatePageRequested, nil)
	return nil
}

func (t *Tree) onPage(gen int, ev async.Event[*catalog.Page]) {
	if gen != t.generation {
		return
	}
	switch ev.Kind {
	case async.EventFinished:
		if ev.Failure != nil {
			t.pageFailed(StatePageFailed, ev.Failure)
			return
		}
		t.populate(ev.Result)
	case async.EventTimedOut:
		t.pageFailed(StatePageTimedOut, ev.Failure)
	case async.EventCancelled:
		t.pageFailed(StatePageCancelled, ev.Failure)
	}
}

// pageFailed keeps every loaded node. A placeholder, if present, records the
// failure and can be triggered again.
func (t *Tree) pageFailed(state State, failure *async.Failure) {
	pagesTotal.WithLabelValues(state.String()).Inc()
	t.logger.Warn().
		Int("page", t.pagesRead+1).
		Str("failure_kind", string(failure.Kind)).
		Err(failure).
		Msg("Page did not load")

	if t.loadMore != nil {
		t.loadMore.PageState = state
		t.loadMore.Failure = failure
		t.emit(Event{Kind: EventNodeChanged, Node: t.loadMore, Failure: failure})
	}
	t.setState(state, failure)
}

func (t *Tree) populate(page *catalog.Page) {
	pagesTotal.WithLabelValues("populated").Inc()
	t.pagesRead++
	firstPage := t.pagesRead == 1

	if t.loadMore != nil {
		t.root.removeChild(t.loadMore)
		t.emit(Event{Kind: EventNodeRemoved, Node: t.loadMore})
		t.loadMore = nil
	}

	var added []*Node
	for _, item := range page.Items {
		if _, dup := t.index[item.Key()]; dup {
			t.logger.Debug().Str("key", item.Key()).Msg("Dropping duplicate item")
			continue
		}
		added = append(added, t.insertLeaf(item))
	}
	t.loaded += len(added)
	t.next = page.Next

	t.logger.Debug().
		Int("page", t.pagesRead).
		Int("items", len(page.Items)).
		Int("added", len(added)).
		Bool("has_more", page.Next != "").
		Msg("Page populated")

	switch {
	case t.loaded == 0 && (firstPage || page.Next == ""):
		t.next = ""
		t.setState(StateNoResults, nil)
	case page.Next != "":
		t.appendLoadMore()
		t.setState(StatePagePopulated, nil)
	default:
		t.setState(StateExhausted, nil)
	}

	if t.config.AutoThumbnails {
		for _, leaf := range added {
			t.RequestThumbnail(leaf)
		}
	}
}

func dayOf(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// insertLeaf places item under its (date, item type[, satellite]) group,
// creating groups on demand. Items join a group in arrival order.
func (t *Tree) insertLeaf(item catalog.Item) *Node {
	sortKey := t.sort.KeyOf(item)
	day := dayOf(sortKey)
	key := day.Format(time.DateOnly) + "|" + item.ItemType

	group := t.groups[key]
	if group == nil {
		group = &Node{
			Kind:     KindGroup,
			Label:    day.Format(time.DateOnly) + " " + item.ItemType,
			SortKey:  sortKey,
			ItemType: item.ItemType,
			groupKey: key,
		}
		t.root.insertChild(t.groupPosition(day), group)
		t.groups[key] = group
		t.emit(Event{Kind: EventNodeAdded, Node: group})
	}

	parent := group
	if t.config.GroupBySatellite && item.SatelliteID != "" {
		satKey := key + "|" + item.SatelliteID
		sat := t.groups[satKey]
		if sat == nil {
			sat = &Node{
				Kind:        KindGroup,
				Label:       item.SatelliteID,
				SortKey:     sortKey,
				ItemType:    item.ItemType,
				SatelliteID: item.SatelliteID,
				groupKey:    satKey,
			}
			group.appendChild(sat)
			t.groups[satKey] = sat
			t.emit(Event{Kind: EventNodeAdded, Node: sat})
		}
		parent = sat
	}

	leaf := &Node{
		Kind:         KindLeaf,
		Label:        item.ID,
		SortKey:      sortKey,
		ItemID:       item.ID,
		ItemType:     item.ItemType,
		SatelliteID:  item.SatelliteID,
		Downloadable: item.Downloadable(),
		Item:         &item,
		Bounds:       item.Footprint(),
	}
	parent.appendChild(leaf)
	t.index[leaf.Key()] = leaf
	t.emit(Event{Kind: EventNodeAdded, Node: leaf})

	for p := parent; p != nil; p = p.parent {
		if p.Kind == KindGroup {
			p.SortKey = p.children[0].SortKey
		}
		p.Bounds = p.Bounds.Union(leaf.Bounds)
	}
	for _, n := range RecomputeUp(leaf) {
		t.emit(Event{Kind: EventNodeChanged, Node: n})
	}
	return leaf
}

// groupPosition returns where a new top-level group for day goes: after every
// group of the same day and ordered by day in sort direction.
func (t *Tree) groupPosition(day time.Time) int {
	desc := t.sort.Descending()
	for i, c := range t.root.children {
		if c.Kind != KindGroup {
			return i
		}
		d := dayOf(c.SortKey)
		if (desc && d.Before(day)) || (!desc && d.After(day)) {
			return i
		}
	}
	return len(t.root.children)
}

func (t *Tree) appendLoadMore() {
	n := &Node{
		Kind:      KindLoadMore,
		Loaded:    t.loaded,
		Total:     t.total,
		PageState: StatePagePopulated,
	}
	n.Label = loadMoreLabel(n.Loaded, n.Total)
	t.root.appendChild(n)
	t.loadMore = n
	t.emit(Event{Kind: EventNodeAdded, Node: n})
}

func loadMoreLabel(loaded, total int) string {
	if total == UnknownTotal {
		return fmt.Sprintf("Load more (%d / ?)", loaded)
	}
	return fmt.Sprintf("Load more (%d / %d)", loaded, total)
}

func (t *Tree) onCount(gen int, ev async.Event[int]) {
	if gen != t.generation || ev.Kind == async.EventRegistered {
		return
	}
	if ev.Failure != nil {
		t.logger.Warn().
			Str("failure_kind", string(ev.Failure.Kind)).
			Err(ev.Failure).
			Msg("Aggregate count unavailable")
		t.emit(Event{Kind: EventCountFailed, State: t.state, Failure: ev.Failure})
		return
	}

	t.total = ev.Result
	t.logger.Debug().Int("total", t.total).Msg("Aggregate count received")
	if t.loadMore != nil {
		t.loadMore.Total = t.total
		t.loadMore.Label = loadMoreLabel(t.loadMore.Loaded, t.total)
		t.emit(Event{Kind: EventNodeChanged, Node: t.loadMore})
	}
	t.emit(Event{Kind: EventCountReceived, State: t.state})
}

// RequestThumbnail schedules the thumbnail of a leaf that has none yet.
// Returns false when nothing was scheduled.
func (t *Tree) RequestThumbnail(n *Node) bool {
	if t.thumbs == nil || n == nil || n.Kind != KindLeaf || n.Thumbnail != ThumbnailNotRequested {
		return false
	}
	key := n.Key()
	if t.index[key] != n {
		return false
	}

	n.Thumbnail = ThumbnailPending
	t.emit(Event{Kind: EventNodeChanged, Node: n})

	gen := t.generation
	ticket, cached := t.thumbs.Acquire(key, t.source.ThumbnailLocator(*n.Item, t.config.ThumbnailWidth), func(res fetchcache.Result) {
		t.onThumbnail(gen, n, res)
	})
	if !cached && ticket != (fetchcache.Ticket{}) {
		t.thumbTickets[key] = ticket
	}
	return true
}

func (t *Tree) onThumbnail(gen int, n *Node, res fetchcache.Result) {
	if gen != t.generation || t.index[n.Key()] != n {
		return
	}
	delete(t.thumbTickets, res.Key)

	switch res.Status {
	case fetchcache.StatusAvailable:
		n.Thumbnail = ThumbnailLoaded
		n.ThumbnailPath = res.Path
		n.Failure = nil
	case fetchcache.StatusCancelled:
		n.Thumbnail = ThumbnailNotRequested
	default:
		n.Thumbnail = ThumbnailFailed
		n.Failure = res.Failure
	}
	t.emit(Event{Kind: EventNodeChanged, Node: n, Failure: n.Failure})
}

// SetChecked applies state to n and its subtree, then recomputes every
// ancestor group. One EventNodeChanged is emitted per node whose state
// changed.
func (t *Tree) SetChecked(n *Node, state CheckState) error {
	if !t.contains(n) {
		return ErrUnknownNode
	}
	if n.Kind == KindLoadMore {
		return ErrNotCheckable
	}

	changed := PropagateDown(n, state)
	changed = append(changed, RecomputeUp(n)...)
	for _, c := range changed {
		t.emit(Event{Kind: EventNodeChanged, Node: c})
	}
	return nil
}

func (t *Tree) contains(n *Node) bool {
	for p := n; p != nil; p = p.parent {
		if p == t.root {
			return true
		}
	}
	return false
}

func (t *Tree) setState(s State, failure *async.Failure) {
	t.state = s
	t.failure = failure
	t.logger.Debug().Str("state", s.String()).Msg("Tree state changed")
	t.emit(Event{Kind: EventStateChanged, State: s, Failure: failure})
}

func (t *Tree) emit(ev Event) {
	for _, fn := range t.subscribers {
		fn(ev)
	}
}
