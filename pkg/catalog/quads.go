package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/progress"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
)

// Quad is one tile of a basemap mosaic.
type Quad struct {
	ID             string    `json:"id"`
	BBox           []float64 `json:"bbox"`
	PercentCovered float64   `json:"percent_covered"`
	Links          struct {
		Download  string `json:"download"`
		Thumbnail string `json:"thumbnail"`
	} `json:"_links"`
}

// Bounds returns the quad extent.
func (q Quad) Bounds() Bounds {
	if len(q.BBox) != 4 {
		return Bounds{}
	}
	return NewBounds(q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3])
}

type wireQuads struct {
	Items []Quad `json:"items"`
	Links struct {
		Next string `json:"_next"`
	} `json:"_links"`
}

// QuadPaginator pages through the quads of each mosaic that intersect BBox.
type QuadPaginator struct {
	Client *Client
	BBox   Bounds
}

// FirstPage returns the first quads request for the mosaic res.ID.
func (p *QuadPaginator) FirstPage(res progress.Resource) (*transport.Request, error) {
	if res.ID == "" {
		return nil, fmt.Errorf("mosaic id is required")
	}
	if !p.BBox.Valid {
		return nil, fmt.Errorf("bbox is required")
	}
	params := url.Values{}
	params.Set("bbox", p.BBox.String())
	params.Set("minimal", "true")
	u := fmt.Sprintf("%s/basemaps/v1/mosaics/%s/quads?%s", p.Client.BaseURL, url.PathEscape(res.ID), params.Encode())
	return &transport.Request{Method: http.MethodGet, URL: u, Header: acceptJSON()}, nil
}

// ParsePage decodes one quads page. next is nil on the last page.
func (p *QuadPaginator) ParsePage(resp *transport.Response) ([]Quad, *transport.Request, error) {
	if err := checkResponse(resp); err != nil {
		return nil, nil, err
	}
	var wire wireQuads
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, nil, fmt.Errorf("%w: quads page: %v", async.ErrMalformed, err)
	}
	if wire.Items == nil {
		return nil, nil, fmt.Errorf("%w: quads page without items", async.ErrMalformed)
	}
	if wire.Links.Next == "" {
		return wire.Items, nil, nil
	}
	next, err := p.Client.NextPageRequest(wire.Links.Next)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", async.ErrMalformed, err)
	}
	return wire.Items, next, nil
}
