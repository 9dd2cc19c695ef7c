// Package testutil provides a mock catalog server for end-to-end tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a fixed response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Scene is one item served by the mock search endpoints.
type Scene struct {
	ID           string
	ItemType     string
	Acquired     time.Time
	SatelliteID  string
	Downloadable bool
	// BBox is minx, miny, maxx, maxy of the footprint. Zero selects a unit square.
	BBox [4]float64
}

// MockQuad is one quad served by the mock mosaic endpoint.
type MockQuad struct {
	ID   string
	BBox [4]float64
}

// MockCatalog is a configurable catalog server for testing. Search results
// are served newest first in pages of the requested _page_size.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	scenes   []Scene
	quads    map[string][]MockQuad

	// QuadPageSize is the number of quads per mosaic page.
	QuadPageSize int

	// Tracking
	RequestCount      int
	ConditionalCount  int
	ThumbnailCount    map[string]int
	LastRequestHeader http.Header
}

// NewMockCatalog creates a new mock catalog server.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		quads:          make(map[string][]MockQuad),
		QuadPageSize:   2,
		ThumbnailCount: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.route(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.ThumbnailCount = make(map[string]int)
	m.LastRequestHeader = nil
}

// AddScenes appends scenes to the search results.
func (m *MockCatalog) AddScenes(scenes ...Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes = append(m.scenes, scenes...)
	sort.SliceStable(m.scenes, func(i, j int) bool {
		return m.scenes[i].Acquired.After(m.scenes[j].Acquired)
	})
}

// SetQuads replaces the quads of a mosaic.
func (m *MockCatalog) SetQuads(mosaic string, quads ...MockQuad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quads[mosaic] = quads
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			io.WriteString(w, resp.Body)
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockCatalog) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetThumbnailCount returns how often the thumbnail of id was downloaded.
func (m *MockCatalog) GetThumbnailCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ThumbnailCount[id]
}

// ThumbnailPNG is the body served for every thumbnail.
var ThumbnailPNG = []byte("\x89PNG\r\n\x1a\nmock-thumbnail")

func (m *MockCatalog) route(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")

	path := r.URL.Path
	switch {
	case path == "/data/v1/quick-search" && r.Method == http.MethodPost:
		size, _ := strconv.Atoi(r.URL.Query().Get("_page_size"))
		m.writeSearchPage(w, 0, size)
	case path == "/data/v1/searches/page":
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		m.writeSearchPage(w, offset, size)
	case path == "/data/v1/stats" && r.Method == http.MethodPost:
		m.writeStats(w)
	case strings.HasPrefix(path, "/thumb/"):
		m.writeThumbnail(w, strings.TrimPrefix(path, "/thumb/"))
	case strings.HasPrefix(path, "/basemaps/v1/mosaics/") && strings.HasSuffix(path, "/quads"):
		mosaic := strings.TrimSuffix(strings.TrimPrefix(path, "/basemaps/v1/mosaics/"), "/quads")
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		m.writeQuads(w, r, mosaic, offset)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found: " + path})
	}
}

func (m *MockCatalog) writeSearchPage(w http.ResponseWriter, offset, size int) {
	if size <= 0 {
		size = 250
	}
	m.mu.RLock()
	total := len(m.scenes)
	end := min(offset+size, total)
	features := make([]map[string]any, 0, size)
	for i := offset; i < end; i++ {
		features = append(features, m.feature(m.scenes[i]))
	}
	m.mu.RUnlock()

	links := map[string]string{}
	if end < total {
		links["_next"] = fmt.Sprintf("%s/data/v1/searches/page?offset=%d&size=%d", m.URL(), end, size)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "FeatureCollection",
		"features": features,
		"_links":   links,
	})
}

func (m *MockCatalog) feature(s Scene) map[string]any {
	bbox := s.BBox
	if bbox == [4]float64{} {
		bbox = [4]float64{0, 0, 1, 1}
	}
	var perms []string
	if s.Downloadable {
		perms = []string{"assets.ortho_visual:download"}
	}
	return map[string]any{
		"type": "Feature",
		"id":   s.ID,
		"geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": [][][2]float64{ring(bbox)},
		},
		"properties": map[string]any{
			"item_type":    s.ItemType,
			"acquired":     s.Acquired.UTC().Format(time.RFC3339Nano),
			"satellite_id": s.SatelliteID,
		},
		"_permissions": perms,
		"_links":       map[string]string{"thumbnail": m.URL() + "/thumb/" + s.ID},
	}
}

func (m *MockCatalog) writeStats(w http.ResponseWriter) {
	m.mu.RLock()
	byYear := map[int]int{}
	for _, s := range m.scenes {
		byYear[s.Acquired.Year()]++
	}
	m.mu.RUnlock()

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	buckets := make([]map[string]any, 0, len(years))
	for _, y := range years {
		buckets = append(buckets, map[string]any{
			"start_time": fmt.Sprintf("%d-01-01T00:00:00.000000Z", y),
			"count":      byYear[y],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"interval": "year", "buckets": buckets})
}

func (m *MockCatalog) writeThumbnail(w http.ResponseWriter, id string) {
	m.mu.Lock()
	m.ThumbnailCount[id]++
	m.mu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(ThumbnailPNG)
}

func (m *MockCatalog) writeQuads(w http.ResponseWriter, r *http.Request, mosaic string, offset int) {
	m.mu.RLock()
	quads, ok := m.quads[mosaic]
	pageSize := m.QuadPageSize
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown mosaic " + mosaic})
		return
	}
	if pageSize <= 0 {
		pageSize = len(quads)
	}

	end := min(offset+pageSize, len(quads))
	items := make([]map[string]any, 0, pageSize)
	for _, q := range quads[offset:end] {
		items = append(items, map[string]any{
			"id":     q.ID,
			"bbox":   q.BBox[:],
			"_links": map[string]string{"download": m.URL() + "/quads/" + q.ID},
		})
	}
	links := map[string]string{}
	if end < len(quads) {
		q := r.URL.Query()
		q.Set("offset", strconv.Itoa(end))
		links["_next"] = m.URL() + r.URL.Path + "?" + q.Encode()
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "_links": links})
}

func ring(b [4]float64) [][2]float64 {
	return [][2]float64{{b[0], b[1]}, {b[2], b[1]}, {b[2], b[3]}, {b[0], b[3]}, {b[0], b[1]}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewJSONResponse creates a 200 OK JSON response with an ETag and Expires header.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
			"ETag":                  `"test-etag-123"`,
			"Expires":               time.Now().Add(5 * time.Minute).Format(http.TimeFormat),
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewConditionalHandler creates a handler that responds with 304 for conditional requests.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, data)
	}
}
