package cache

import (
	"net/http"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when no Expires or Cache-Control max-age is present
	DefaultTTL = 5 * time.Minute
)

// NewEntry builds a CacheEntry from a fully read response.
func NewEntry(statusCode int, header http.Header, body []byte) *CacheEntry {
	entry := &CacheEntry{
		Body:       body,
		ETag:       header.Get("ETag"),
		StatusCode: statusCode,
		Header:     header.Clone(),
		CachedAt:   time.Now(),
		Expires:    parseExpires(header),
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// parseExpires parses the Expires header.
// Returns the parsed time, or now + DefaultTTL if missing or unparsable.
func parseExpires(headers http.Header) time.Time {
	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return time.Now().Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return time.Now().Add(DefaultTTL)
	}

	if expires.Before(time.Now()) {
		return time.Now()
	}

	return expires
}

// ShouldMakeConditionalRequest reports whether the entry carries a validator
// (ETag or Last-Modified) that allows a conditional request.
func ShouldMakeConditionalRequest(entry *CacheEntry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (preferred) or If-Modified-Since.
func AddConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil || req == nil {
		return
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
