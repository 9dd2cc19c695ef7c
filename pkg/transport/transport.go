// Package transport carries catalog requests. Components depend on the
// Dispatcher capability; Client is the HTTP implementation with rate
// limiting, response caching and retry.
package transport

import (
	"context"
	"mime"
	"net/http"
)

// Request is a transport-neutral catalog request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read catalog response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is set when the body was served from the response cache.
	FromCache bool
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// MediaType returns the response content type without parameters.
func (r *Response) MediaType() string {
	if r.Header == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mediaType
}

// Dispatcher sends a request and returns the response. Non-2xx statuses are
// returned as responses; errors are reserved for requests that produced no
// response at all.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
