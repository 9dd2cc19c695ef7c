package fetchcache

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the artifact cache.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchcache_fetches_total",
		Help: "Artifact fetches by outcome",
	}, []string{"outcome"})

	dedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchcache_dedup_total",
		Help: "Fetch calls attached to an already in-flight key",
	})

	bytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchcache_bytes_written_total",
		Help: "Artifact bytes written to disk",
	})

	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetchcache_in_flight",
		Help: "Keys with an outstanding transport call",
	})
)

// Status is the terminal state reported for a key.
type Status int

const (
	// StatusAvailable means the artifact is on disk at Result.Path.
	StatusAvailable Status = iota
	StatusFailed
	StatusTimedOut
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is delivered once per Fetch call.
type Result struct {
	Key     string
	Path    string
	Status  Status
	Failure *async.Failure
}

// Locator tells the transport where an artifact lives. Method defaults to GET.
type Locator struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (l Locator) request() *transport.Request {
	method := l.Method
	if method == "" {
		method = http.MethodGet
	}
	return &transport.Request{Method: method, URL: l.URL, Header: l.Header, Body: l.Body}
}

// Config configures a Cache.
type Config struct {
	// Dir holds one file per key.
	Dir string

	// Timeout bounds one fetch. Zero disables the timeout.
	Timeout time.Duration

	// FileExt is appended to every file name (e.g. ".png").
	FileExt string

	// AcceptContentTypes lists accepted media types. Empty accepts any.
	AcceptContentTypes []string
}

// DefaultConfig returns a thumbnail cache configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		Timeout:            30 * time.Second,
		FileExt:            ".png",
		AcceptContentTypes: []string{"image/png", "image/jpeg"},
	}
}

// Ticket identifies one caller attached to an in-flight key. The zero
// Ticket is returned when nothing was attached.
type Ticket struct {
	Key string
	id  uint64
}

type waiter struct {
	id     uint64
	notify func(Result)
}

type queueEntry struct {
	key     string
	waiters []waiter
}

// Cache deduplicates artifact fetches by key and persists results.
type Cache struct {
	loop       *async.Loop
	dispatcher transport.Dispatcher
	store      *Store
	watcher    *async.Watcher[Entry]
	config     Config
	logger     zerolog.Logger

	index       map[string]Entry
	queue       map[string]*queueEntry
	lastTicket  uint64
	subscribers []func(Result)
}

// New creates a cache over cfg.Dir. Stale temp files from an interrupted
// write are removed; finished artifacts are reused.
func New(loop *async.Loop, dispatcher transport.Dispatcher, cfg Config, logger zerolog.Logger) (*Cache, error) {
	if loop == nil {
		return nil, fmt.Errorf("loop is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %v)", cfg.Timeout)
	}

	store, err := NewStore(cfg.Dir, cfg.FileExt)
	if err != nil {
		return nil, err
	}

	artifacts, err := store.Scan()
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("cache_dir", cfg.Dir).Logger()
	logger.Debug().Int("artifacts", artifacts).Msg("Artifact cache opened")

	return &Cache{
		loop:       loop,
		dispatcher: dispatcher,
		store:      store,
		watcher:    async.NewWatcher[Entry](loop, "fetchcache", logger),
		config:     cfg,
		logger:     logger,
		index:      make(map[string]Entry),
		queue:      make(map[string]*queueEntry),
	}, nil
}

// Subscribe registers fn for the results of every key.
func (c *Cache) Subscribe(fn func(Result)) {
	c.subscribers = append(c.subscribers, fn)
}

// Fetch requests the artifact for key. It returns true when the artifact is
// already cached; notify then runs on the next loop turn and no transport call
// is made. If key is already in flight notify is attached to that fetch.
// notify may be nil.
func (c *Cache) Fetch(key string, loc Locator, notify func(Result)) bool {
	_, cached := c.Acquire(key, loc, notify)
	return cached
}

// Acquire behaves like Fetch and also returns the Ticket of the attached
// caller, for use with Release.
func (c *Cache) Acquire(key string, loc Locator, notify func(Result)) (Ticket, bool) {
	if key == "" {
		c.later(notify, Result{
			Status:  StatusFailed,
			Failure: async.NewFailure(async.KindTransport, "empty cache key", nil),
		})
		return Ticket{}, false
	}

	if entry, ok := c.cached(key); ok {
		fetchesTotal.WithLabelValues("hit").Inc()
		c.logger.Debug().Str("key", key).Msg("Artifact cache hit")
		c.later(notify, Result{Key: key, Path: entry.Path, Status: StatusAvailable})
		return Ticket{}, true
	}

	if q, ok := c.queue[key]; ok {
		ticket := c.attach(q, notify)
		dedupTotal.Inc()
		c.logger.Debug().Str("key", key).Msg("Fetch already in flight")
		return ticket, false
	}

	q := &queueEntry{key: key}
	ticket := c.attach(q, notify)
	c.queue[key] = q
	inFlightGauge.Inc()

	req := loc.request()
	_, err := c.watcher.Start(context.Background(), key, c.config.Timeout,
		func(ctx context.Context) (Entry, error) {
			return c.download(ctx, key, req)
		},
		func(ev async.Event[Entry]) {
			c.onEvent(q, ev)
		})
	if err != nil {
		c.complete(q, Result{
			Key:     key,
			Status:  StatusFailed,
			Failure: async.AsFailure(err),
		})
		return Ticket{}, false
	}
	return ticket, false
}

func (c *Cache) attach(q *queueEntry, notify func(Result)) Ticket {
	c.lastTicket++
	q.waiters = append(q.waiters, waiter{id: c.lastTicket, notify: notify})
	return Ticket{Key: q.key, id: c.lastTicket}
}

// cached checks the index and then the disk. Index entries whose file was
// removed out of band are dropped.
func (c *Cache) cached(key string) (Entry, bool) {
	if entry, ok := c.index[key]; ok {
		if _, exists := c.store.Stat(key); exists {
			return entry, true
		}
		delete(c.index, key)
		return Entry{}, false
	}
	if entry, ok := c.store.Stat(key); ok {
		c.index[key] = entry
		return entry, true
	}
	return Entry{}, false
}

// download runs on a worker goroutine: dispatch, validate and write.
func (c *Cache) download(ctx context.Context, key string, req *transport.Request) (Entry, error) {
	resp, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return Entry{}, err
	}

	if !resp.IsSuccess() {
		return Entry{}, &transport.HTTPError{
			StatusCode: resp.StatusCode,
			ErrorClass: transport.ClassifyStatus(resp.StatusCode),
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	if len(resp.Body) == 0 {
		return Entry{}, fmt.Errorf("%w: empty body", async.ErrMalformed)
	}
	if !c.accepts(resp.MediaType()) {
		return Entry{}, fmt.Errorf("%w: content type %q", async.ErrMalformed, resp.MediaType())
	}

	// Skip the write once the operation was cancelled or timed out.
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	entry, err := c.store.Write(key, resp.Body)
	if err != nil {
		return Entry{}, err
	}
	bytesWrittenTotal.Add(float64(entry.Size))
	return entry, nil
}

func (c *Cache) accepts(mediaType string) bool {
	if len(c.config.AcceptContentTypes) == 0 {
		return true
	}
	for _, accepted := range c.config.AcceptContentTypes {
		if accepted == mediaType {
			return true
		}
	}
	return false
}

func (c *Cache) onEvent(q *queueEntry, ev async.Event[Entry]) {
	res := Result{Key: q.key, Failure: ev.Failure}

	switch ev.Kind {
	case async.EventRegistered:
		return
	case async.EventFinished:
		if ev.Failure != nil {
			res.Status = StatusFailed
			break
		}
		c.index[q.key] = ev.Result
		res.Status = StatusAvailable
		res.Path = ev.Result.Path
	case async.EventTimedOut:
		res.Status = StatusTimedOut
	case async.EventCancelled:
		res.Status = StatusCancelled
	}

	if res.Failure != nil {
		c.logger.Warn().
			Str("key", q.key).
			Str("failure_kind", string(res.Failure.Kind)).
			Err(res.Failure).
			Msg("Artifact fetch did not complete")
	} else {
		c.logger.Debug().Str("key", q.key).Str("path", res.Path).Msg("Artifact available")
	}

	c.complete(q, res)
}

// complete removes the queue entry and notifies every waiter.
func (c *Cache) complete(q *queueEntry, res Result) {
	if current, ok := c.queue[q.key]; ok && current == q {
		delete(c.queue, q.key)
		inFlightGauge.Dec()
	}
	fetchesTotal.WithLabelValues(res.Status.String()).Inc()

	for _, w := range q.waiters {
		if w.notify != nil {
			w.notify(res)
		}
	}
	c.publish(res)
}

// later delivers a result on the next loop turn.
func (c *Cache) later(notify func(Result), res Result) {
	c.loop.Post(func() {
		if notify != nil {
			notify(res)
		}
		c.publish(res)
	})
}

func (c *Cache) publish(res Result) {
	for _, fn := range c.subscribers {
		fn(res)
	}
}

// Cancel aborts the in-flight fetch for key for every caller. Waiters receive
// StatusCancelled. Callers sharing the cache should prefer Release.
// Returns false when nothing is in flight for key.
func (c *Cache) Cancel(key string) bool {
	return c.watcher.Cancel(key)
}

// Release detaches the caller identified by t. Its notify receives
// StatusCancelled; the other callers stay attached. The transport call is
// cancelled once no caller remains. Returns false when t is not attached.
func (c *Cache) Release(t Ticket) bool {
	q, ok := c.queue[t.Key]
	if !ok || t.id == 0 {
		return false
	}
	i := slices.IndexFunc(q.waiters, func(w waiter) bool { return w.id == t.id })
	if i < 0 {
		return false
	}
	w := q.waiters[i]
	q.waiters = slices.Delete(q.waiters, i, i+1)

	c.logger.Debug().
		Str("key", t.Key).
		Int("remaining", len(q.waiters)).
		Msg("Fetch released")

	if w.notify != nil {
		w.notify(Result{
			Key:     t.Key,
			Status:  StatusCancelled,
			Failure: async.NewFailure(async.KindCancelled, "fetch released by caller", context.Canceled),
		})
	}
	if len(q.waiters) == 0 {
		c.watcher.Cancel(t.Key)
	}
	return true
}

// CancelAll aborts every in-flight fetch.
func (c *Cache) CancelAll() int {
	return c.watcher.CancelAll()
}

// Lookup returns the cached entry for key without fetching.
func (c *Cache) Lookup(key string) (Entry, bool) {
	return c.cached(key)
}

// Pending reports whether key has a fetch in flight.
func (c *Cache) Pending(key string) bool {
	_, ok := c.queue[key]
	return ok
}

// InFlight returns the number of keys with a fetch in flight.
func (c *Cache) InFlight() int {
	return len(c.queue)
}

// TimeRemaining returns how long the fetch for key has before timing out,
// or async.NoActiveOperation.
func (c *Cache) TimeRemaining(key string) time.Duration {
	return c.watcher.TimeRemaining(key)
}

// Store returns the underlying file store.
func (c *Cache) Store() *Store {
	return c.store
}
