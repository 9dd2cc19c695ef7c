package resulttree

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/fetchcache"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://catalog.test"

type testItem struct {
	id           string
	itemType     string
	satellite    string
	acquired     time.Time
	downloadable bool
}

func day(d int) time.Time {
	return time.Date(2024, time.May, d, 10, 0, 0, 0, time.UTC)
}

func item(id string, acquired time.Time) testItem {
	return testItem{id: id, itemType: "PSScene", acquired: acquired, downloadable: true}
}

func (i testItem) feature(n int) map[string]any {
	perms := []string{}
	if i.downloadable {
		perms = []string{"assets.ortho_visual:download"}
	}
	props := map[string]any{
		"item_type": i.itemType,
		"acquired":  i.acquired.Format(time.RFC3339),
	}
	if i.satellite != "" {
		props["satellite_id"] = i.satellite
	}
	return map[string]any{
		"type":         "Feature",
		"id":           i.id,
		"geometry":     map[string]any{"type": "Point", "coordinates": []float64{float64(n), float64(-n)}},
		"properties":   props,
		"_permissions": perms,
		"_links":       map[string]any{"thumbnail": testBaseURL + "/thumb/" + i.id},
	}
}

// fakeCatalog serves explicit pages, an aggregate count and thumbnails.
type fakeCatalog struct {
	mu     sync.Mutex
	pages  [][]testItem
	total  int
	status map[string]int
	hold   map[string]chan struct{}
	calls  map[string]int
}

func newFakeCatalog(pages ...[]testItem) *fakeCatalog {
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	return &fakeCatalog{
		pages:  pages,
		total:  total,
		status: make(map[string]int),
		hold:   make(map[string]chan struct{}),
		calls:  make(map[string]int),
	}
}

func (f *fakeCatalog) setStatus(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.status, path)
		return
	}
	f.status[path] = status
}

func (f *fakeCatalog) holdPath(path string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[path] = ch
	return ch
}

func (f *fakeCatalog) release(path string) {
	f.mu.Lock()
	ch := f.hold[path]
	delete(f.hold, path)
	f.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (f *fakeCatalog) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeCatalog) Dispatch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	path := u.Path

	f.mu.Lock()
	f.calls[path]++
	hold := f.hold[path]
	status := f.status[path]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if status != 0 {
		return &transport.Response{StatusCode: status, Body: []byte(http.StatusText(status))}, nil
	}

	switch {
	case path == "/data/v1/stats":
		return jsonResponse(map[string]any{"buckets": []map[string]int{{"count": f.total}}})
	case path == "/data/v1/quick-search":
		return f.page(1)
	case strings.HasPrefix(path, "/page/"):
		n, _ := strconv.Atoi(strings.TrimPrefix(path, "/page/"))
		return f.page(n)
	case strings.HasPrefix(path, "/thumb/"):
		return &transport.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"image/png"}},
			Body:       []byte("png:" + path),
		}, nil
	}
	return &transport.Response{StatusCode: http.StatusNotFound}, nil
}

func (f *fakeCatalog) page(n int) (*transport.Response, error) {
	if n < 1 || n > len(f.pages) {
		return &transport.Response{StatusCode: http.StatusNotFound}, nil
	}
	offset := 0
	for _, p := range f.pages[:n-1] {
		offset += len(p)
	}
	features := make([]map[string]any, 0, len(f.pages[n-1]))
	for i, it := range f.pages[n-1] {
		features = append(features, it.feature(offset+i))
	}
	body := map[string]any{"type": "FeatureCollection", "features": features, "_links": map[string]any{}}
	if n < len(f.pages) {
		body["_links"] = map[string]any{"_next": fmt.Sprintf("%s/page/%d", testBaseURL, n+1)}
	}
	return jsonResponse(body)
}

func jsonResponse(v any) (*transport.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &transport.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}, nil
}

// eventRecorder collects tree events; only touched on the loop.
type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) add(ev Event) { r.events = append(r.events, ev) }

type harness struct {
	loop    *async.Loop
	tree    *Tree
	backend *fakeCatalog
	thumbs  *fetchcache.Cache
	events  *eventRecorder
}

func newHarness(t *testing.T, backend *fakeCatalog, mutate func(*Config)) *harness {
	t.Helper()

	loop := async.NewLoop(zerolog.Nop())
	loop.Start()

	thumbs, err := fetchcache.New(loop, backend, fetchcache.DefaultConfig(t.TempDir()), zerolog.Nop())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AutoThumbnails = false
	cfg.PageTimeout = 2 * time.Second
	cfg.CountTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	tree, err := New(loop, backend, catalog.NewClient(testBaseURL), thumbs, cfg, zerolog.Nop())
	require.NoError(t, err)

	h := &harness{loop: loop, tree: tree, backend: backend, thumbs: thumbs, events: &eventRecorder{}}
	require.NoError(t, loop.Do(func() { tree.Subscribe(h.events.add) }))

	t.Cleanup(func() {
		_ = loop.Do(func() {
			tree.Cancel()
			thumbs.CancelAll()
		})
		loop.Stop()
	})
	return h
}

func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Do(fn))
}

func (h *harness) start(t *testing.T, sort catalog.Sort) {
	t.Helper()
	h.do(t, func() {
		assert.NoError(t, h.tree.StartSearch(catalog.Query{ItemTypes: []string{"PSScene"}}, sort))
	})
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		var got State
		_ = h.loop.Do(func() { got = h.tree.State() })
		return got == want
	}, 3*time.Second, 5*time.Millisecond, "waiting for state %s", want)
}

func (h *harness) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		_ = h.loop.Do(func() { ok = cond() })
		return ok
	}, 3*time.Second, 5*time.Millisecond)
}

// checkInvariant verifies every container against its children.
func checkInvariant(t *testing.T, root *Node) {
	t.Helper()
	root.walk(func(n *Node) bool {
		if n.IsContainer() {
			assert.Equal(t, GroupState(n.children), n.Check, "container %q", n.Label)
		}
		if n.Kind == KindGroup && len(n.children) > 0 {
			assert.Equal(t, n.children[0].SortKey, n.SortKey, "group %q sort key", n.Label)
		}
		return true
	})
}
