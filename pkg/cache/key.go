package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached catalog response.
type CacheKey struct {
	// Method is the HTTP method (only GET responses are cached in practice)
	Method string

	// Endpoint is the request path (e.g., "/data/v1/item-types/PSScene/items/abc")
	Endpoint string

	// QueryParams are the query parameters
	QueryParams url.Values

	// Scope separates callers with different credentials (empty for public data)
	Scope string
}

// String generates a deterministic cache key string.
// Format: catalog:METHOD:endpoint:query1=val1:query2=val2:scope=xyz
//
// Example:
//
//	catalog:GET:basemaps/v1/mosaics/abc/quads:bbox=-10,-10,10,10
func (k CacheKey) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	parts := []string{"catalog", method}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}

// KeyForURL builds a key from a request URL.
func KeyForURL(method string, u *url.URL, scope string) CacheKey {
	return CacheKey{
		Method:      method,
		Endpoint:    u.Path,
		QueryParams: u.Query(),
		Scope:       scope,
	}
}
