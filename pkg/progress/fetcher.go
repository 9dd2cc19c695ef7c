package progress

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "progress_pages_total",
	Help: "Resource pages fetched by outcome",
}, []string{"outcome"})

// Config holds fetcher configuration.
type Config struct {
	// PageTimeout bounds each page fetch. Zero disables the timeout.
	PageTimeout time.Duration

	// MaxPages caps the pages read per resource. Zero means no cap.
	MaxPages int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PageTimeout: 30 * time.Second,
	}
}

// Resource is one parent resource, e.g. a mosaic.
type Resource struct {
	ID   string
	Name string
}

// Paginator knows how to page through one resource.
type Paginator[T any] interface {
	// FirstPage returns the request for the first page of res.
	FirstPage(res Resource) (*transport.Request, error)

	// ParsePage decodes a page. next is nil when the resource is exhausted.
	ParsePage(resp *transport.Response) (items []T, next *transport.Request, err error)
}

// EventKind identifies a progress event.
type EventKind int

const (
	// EventResourceStarted precedes the first page of a resource.
	EventResourceStarted EventKind = iota

	// EventPageRead follows every successfully read page.
	EventPageRead

	// EventDone follows the last page of the last resource.
	EventDone

	// EventFailed ends a run that failed or was cancelled.
	EventFailed
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventResourceStarted:
		return "resource_started"
	case EventPageRead:
		return "page_read"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports progress. Page is 1-based and set for EventPageRead.
type Event struct {
	Kind          EventKind
	ResourceIndex int
	Resource      Resource
	Page          int
	Items         int
	Failure       *async.Failure
}

// Result holds the items read per resource. Resources[i] belongs to the i-th
// resource that was started; a run that stopped early keeps the partial list
// of the resource it stopped in. Completed counts fully read resources.
type Result[T any] struct {
	Resources [][]T
	Completed int
}

// Items returns all items in resource order.
func (r Result[T]) Items() []T {
	var all []T
	for _, items := range r.Resources {
		all = append(all, items...)
	}
	return all
}

type pageResult[T any] struct {
	items []T
	next  *transport.Request
}

// Fetcher runs sequential multi-resource fetches. Runs are independent; one
// fetcher may serve several runs one after another.
type Fetcher[T any] struct {
	loop       *async.Loop
	dispatcher transport.Dispatcher
	watcher    *async.Watcher[pageResult[T]]
	config     Config
	logger     zerolog.Logger
	cancelled  atomic.Bool
}

// New creates a fetcher.
func New[T any](loop *async.Loop, dispatcher transport.Dispatcher, cfg Config, logger zerolog.Logger) (*Fetcher[T], error) {
	if loop == nil {
		return nil, fmt.Errorf("loop is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.PageTimeout < 0 {
		return nil, fmt.Errorf("page_timeout must be >= 0 (got %v)", cfg.PageTimeout)
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must be >= 0 (got %d)", cfg.MaxPages)
	}
	return &Fetcher[T]{
		loop:       loop,
		dispatcher: dispatcher,
		watcher:    async.NewWatcher[pageResult[T]](loop, "progress", logger),
		config:     cfg,
		logger:     logger,
	}, nil
}

// Cancel asks the running fetch to stop after the in-flight page. It is safe
// from any goroutine, including the loop.
func (f *Fetcher[T]) Cancel() {
	f.cancelled.Store(true)
}

// Run fetches every page of every resource. It blocks until the run ends and
// must not be called on the loop. onEvent runs on the loop and may be nil.
//
// On failure or cancellation Run returns the partial result and a
// *async.Failure. Cancelling ctx also aborts the in-flight page.
func (f *Fetcher[T]) Run(ctx context.Context, resources []Resource, paginator Paginator[T], onEvent func(Event)) (Result[T], error) {
	f.cancelled.Store(false)
	start := time.Now()
	var result Result[T]

	f.logger.Info().Int("resources", len(resources)).Msg("Starting resource fetch")

	for i, res := range resources {
		if failure := f.stopped(ctx); failure != nil {
			return result, f.fail(onEvent, i, res, failure)
		}

		f.emit(onEvent, Event{Kind: EventResourceStarted, ResourceIndex: i, Resource: res})
		result.Resources = append(result.Resources, nil)

		req, err := paginator.FirstPage(res)
		if err != nil {
			return result, f.fail(onEvent, i, res, async.NewFailure(async.KindTransport, "build first page request", err))
		}

		for page := 1; req != nil; page++ {
			if page > 1 {
				if failure := f.stopped(ctx); failure != nil {
					return result, f.fail(onEvent, i, res, failure)
				}
			}

			pr, failure := f.fetchPage(ctx, req, paginator)
			if failure != nil {
				pagesTotal.WithLabelValues(string(failure.Kind)).Inc()
				f.logger.Warn().
					Str("resource", res.Name).
					Int("page", page).
					Str("failure_kind", string(failure.Kind)).
					Err(failure).
					Msg("Page fetch failed")
				return result, f.fail(onEvent, i, res, failure)
			}
			pagesTotal.WithLabelValues("read").Inc()

			result.Resources[i] = append(result.Resources[i], pr.items...)
			f.emit(onEvent, Event{Kind: EventPageRead, ResourceIndex: i, Resource: res, Page: page, Items: len(pr.items)})

			req = pr.next
			if f.config.MaxPages > 0 && page >= f.config.MaxPages {
				req = nil
			}
		}

		result.Completed++
		f.logger.Debug().
			Str("resource", res.Name).
			Int("items", len(result.Resources[i])).
			Msg("Resource complete")
	}

	// A cancel that arrived during the last page still suppresses Done.
	if failure := f.stopped(ctx); failure != nil {
		return result, f.fail(onEvent, len(resources)-1, Resource{}, failure)
	}

	f.emit(onEvent, Event{Kind: EventDone, ResourceIndex: len(resources) - 1})
	f.logger.Info().
		Int("resources", len(resources)).
		Int("items", len(result.Items())).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")
	return result, nil
}

func (f *Fetcher[T]) stopped(ctx context.Context) *async.Failure {
	if err := ctx.Err(); err != nil {
		return async.AsFailure(err)
	}
	if f.cancelled.Load() {
		return async.NewFailure(async.KindCancelled, "fetch cancelled by caller", context.Canceled)
	}
	return nil
}

// fetchPage runs one page as a watcher operation and waits for its terminal
// event.
func (f *Fetcher[T]) fetchPage(ctx context.Context, req *transport.Request, paginator Paginator[T]) (pageResult[T], *async.Failure) {
	done := make(chan async.Event[pageResult[T]], 1)
	var op async.Operation
	var startErr error

	err := f.loop.Do(func() {
		op, startErr = f.watcher.Start(ctx, "", f.config.PageTimeout,
			func(callCtx context.Context) (pageResult[T], error) {
				resp, err := f.dispatcher.Dispatch(callCtx, req)
				if err != nil {
					return pageResult[T]{}, err
				}
				items, next, err := paginator.ParsePage(resp)
				if err != nil {
					return pageResult[T]{}, err
				}
				return pageResult[T]{items: items, next: next}, nil
			},
			func(ev async.Event[pageResult[T]]) {
				if ev.Kind.Terminal() {
					done <- ev
				}
			})
	})
	if err != nil {
		return pageResult[T]{}, async.AsFailure(err)
	}
	if startErr != nil {
		return pageResult[T]{}, async.AsFailure(startErr)
	}

	var ev async.Event[pageResult[T]]
	select {
	case ev = <-done:
	case <-ctx.Done():
		if err := f.loop.Do(func() { f.watcher.Cancel(op.ID) }); err != nil {
			return pageResult[T]{}, async.AsFailure(errors.Join(ctx.Err(), err))
		}
		ev = <-done
	}

	if ev.Failure != nil {
		return pageResult[T]{}, ev.Failure
	}
	return ev.Result, nil
}

func (f *Fetcher[T]) fail(onEvent func(Event), index int, res Resource, failure *async.Failure) error {
	if failure.Kind == async.KindCancelled {
		f.logger.Info().Int("resource_index", index).Msg("Resource fetch cancelled")
	} else {
		f.logger.Error().
			Int("resource_index", index).
			Str("failure_kind", string(failure.Kind)).
			Err(failure).
			Msg("Resource fetch failed")
	}
	f.emit(onEvent, Event{Kind: EventFailed, ResourceIndex: index, Resource: res, Failure: failure})
	return failure
}

// emit posts ev to the loop. Events are posted from the single Run goroutine
// so their loop order matches emission order.
func (f *Fetcher[T]) emit(onEvent func(Event), ev Event) {
	if onEvent == nil {
		return
	}
	f.loop.Post(func() { onEvent(ev) })
}
