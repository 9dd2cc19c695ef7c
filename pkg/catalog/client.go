package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/fetchcache"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
)

// DefaultBaseURL is the public catalog API.
const DefaultBaseURL = "https://api.planet.com"

// DefaultPageSize is the number of items requested per search page.
const DefaultPageSize = 250

// Client builds catalog requests relative to BaseURL.
type Client struct {
	BaseURL string
}

// NewClient returns a client for baseURL. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Page is one decoded search page. Next is empty on the last page.
type Page struct {
	Items []Item
	Next  string
}

type wirePage struct {
	Features []json.RawMessage `json:"features"`
	Links    struct {
		Next string `json:"_next"`
	} `json:"_links"`
}

// SearchRequest returns the request for the first page of q.
func (c *Client) SearchRequest(q Query, sort Sort, pageSize int) (*transport.Request, error) {
	if len(q.ItemTypes) == 0 {
		return nil, fmt.Errorf("query needs at least one item type")
	}
	if sort == "" {
		sort = SortAcquiredDesc
	}
	if !sort.Valid() {
		return nil, fmt.Errorf("unsupported sort %q", sort)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	params := url.Values{}
	params.Set("_sort", string(sort))
	params.Set("_page_size", strconv.Itoa(pageSize))

	return c.jsonRequest(http.MethodPost, c.BaseURL+"/data/v1/quick-search?"+params.Encode(), body), nil
}

// NextPageRequest returns the request for a _links._next value.
func (c *Client) NextPageRequest(next string) (*transport.Request, error) {
	if next == "" {
		return nil, fmt.Errorf("no next page")
	}
	u, err := url.Parse(next)
	if err != nil {
		return nil, fmt.Errorf("invalid next link %q: %w", next, err)
	}
	if !u.IsAbs() {
		next = c.BaseURL + "/" + strings.TrimLeft(next, "/")
	}
	return &transport.Request{Method: http.MethodGet, URL: next, Header: acceptJSON()}, nil
}

// ParsePage decodes a search page.
func (c *Client) ParsePage(resp *transport.Response) (*Page, error) {
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var wire wirePage
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("%w: search page: %v", async.ErrMalformed, err)
	}
	if wire.Features == nil {
		return nil, fmt.Errorf("%w: search page without features", async.ErrMalformed)
	}

	page := &Page{Items: make([]Item, 0, len(wire.Features)), Next: wire.Links.Next}
	for _, raw := range wire.Features {
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: %v", async.ErrMalformed, err)
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

type statsRequest struct {
	Interval  string   `json:"interval"`
	ItemTypes []string `json:"item_types"`
	Filter    Filter   `json:"filter"`
}

type statsResponse struct {
	Buckets []struct {
		Count int `json:"count"`
	} `json:"buckets"`
}

// CountRequest returns the aggregate count request for q.
func (c *Client) CountRequest(q Query) (*transport.Request, error) {
	if len(q.ItemTypes) == 0 {
		return nil, fmt.Errorf("query needs at least one item type")
	}
	filter := q.Filter
	if filter.Type == "" {
		filter = AndFilter()
	}
	body, err := json.Marshal(statsRequest{Interval: "year", ItemTypes: q.ItemTypes, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("encode stats query: %w", err)
	}
	return c.jsonRequest(http.MethodPost, c.BaseURL+"/data/v1/stats", body), nil
}

// ParseCount sums the bucket counts of a stats response.
func (c *Client) ParseCount(resp *transport.Response) (int, error) {
	if err := checkResponse(resp); err != nil {
		return 0, err
	}
	var stats statsResponse
	if err := json.Unmarshal(resp.Body, &stats); err != nil {
		return 0, fmt.Errorf("%w: stats: %v", async.ErrMalformed, err)
	}
	if stats.Buckets == nil {
		return 0, fmt.Errorf("%w: stats without buckets", async.ErrMalformed)
	}
	total := 0
	for _, b := range stats.Buckets {
		total += b.Count
	}
	return total, nil
}

// ThumbnailLocator returns where the thumbnail of item is fetched from.
// A width of zero keeps the server default.
func (c *Client) ThumbnailLocator(item Item, width int) fetchcache.Locator {
	link := item.ThumbnailURL
	if link == "" {
		link = fmt.Sprintf("%s/data/v1/item-types/%s/items/%s/thumb", c.BaseURL, item.ItemType, item.ID)
	}
	if width > 0 {
		if u, err := url.Parse(link); err == nil {
			q := u.Query()
			q.Set("width", strconv.Itoa(width))
			u.RawQuery = q.Encode()
			link = u.String()
		}
	}
	return fetchcache.Locator{URL: link}
}

func (c *Client) jsonRequest(method, u string, body []byte) *transport.Request {
	h := acceptJSON()
	h.Set("Content-Type", "application/json")
	return &transport.Request{Method: method, URL: u, Header: h, Body: body}
}

func acceptJSON() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	return h
}

// maxMessageLen bounds the response body quoted in an HTTPError, in bytes.
const maxMessageLen = 200

// checkResponse turns non-2xx responses into a *transport.HTTPError.
func checkResponse(resp *transport.Response) error {
	if resp == nil {
		return fmt.Errorf("%w: no response", async.ErrMalformed)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body))
	if len(msg) > maxMessageLen {
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &transport.HTTPError{
		StatusCode: resp.StatusCode,
		ErrorClass: transport.ClassifyStatus(resp.StatusCode),
		Message:    msg,
	}
}
