package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/cache"
	"github.com/Sternrassler/catalog-explorer/pkg/logging"
	"github.com/Sternrassler/catalog-explorer/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Prometheus metrics for catalog requests.
var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_requests_total",
		Help: "Total catalog requests by method and status",
	}, []string{"method", "status"})

	catalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_request_duration_seconds",
		Help:    "Catalog request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	catalogErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_errors_total",
		Help: "Total catalog errors by class",
	}, []string{"class"})
)

// Client is the HTTP Dispatcher for the catalog.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	sem         *semaphore.Weighted
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	scope       string
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as the basic auth user name. Empty disables auth.
	APIKey string

	// User-Agent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Redis client for shared response cache and rate limit state (optional)
	Redis *redis.Client

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Rate Limiting
	RateLimit float64 // Requests per second, 0 disables the limiter
	Burst     int

	// Concurrency
	MaxConcurrency int // Max parallel requests

	// Caching
	CacheResponses bool          // Cache GET responses
	MemoryCacheTTL time.Duration // In-memory cache TTL

	// Retry
	MaxRetries     int // Retries after the first attempt
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey, userAgent string) Config {
	return Config{
		APIKey:         apiKey,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		RateLimit:      10,
		Burst:          5,
		MaxConcurrency: 5,
		CacheResponses: true,
		MemoryCacheTTL: 60 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new catalog HTTP client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max_concurrency must be >= 1 (got %d)", cfg.MaxConcurrency)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	logger := logging.NewLogger(logging.ComponentTransport)

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		config:      cfg,
		logger:      logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.CacheResponses {
		c.cache = cache.NewManager(cfg.Redis, cfg.MemoryCacheTTL)
	}

	if cfg.APIKey != "" {
		sum := sha256.Sum256([]byte(cfg.APIKey))
		c.scope = hex.EncodeToString(sum[:6])
	}

	return c, nil
}

// Dispatch performs a request with rate limiting, caching, and retry.
// Non-2xx responses are returned without an error once retries are used up.
func (c *Client) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	startTime := time.Now()
	defer func() {
		catalogRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Concurrency and request rate
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	// Step 2: Check Rate Limit budget
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("url", req.URL).
			Msg("Request blocked by rate limiter")
		catalogRequestsTotal.WithLabelValues(method, "rate_limited").Inc()
		return nil, &HTTPError{
			StatusCode: http.StatusTooManyRequests,
			ErrorClass: ErrorClassRateLimit,
			Message:    "rate limit critical",
			Err:        ErrRateLimited,
		}
	}

	// Step 3: Check Cache
	cacheable := c.cache != nil && method == http.MethodGet
	var cacheKey cache.CacheKey
	var cachedEntry *cache.CacheEntry
	if cacheable {
		cacheKey = cache.KeyForURL(method, target, c.scope)
		cachedEntry, err = c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("url", req.URL).Msg("Cache get error")
		}
		if cachedEntry != nil && !cache.ShouldMakeConditionalRequest(cachedEntry) {
			c.logger.Debug().Str("url", req.URL).Msg("Serving response from cache")
			catalogRequestsTotal.WithLabelValues(method, "cached").Inc()
			return entryToResponse(cachedEntry), nil
		}
	}

	// Step 4: Execute with Retry Logic
	c.logger.Debug().
		Str("url", req.URL).
		Str("method", method).
		Msg("Executing catalog request")

	var last *Response
	retryErr := retryWithBackoff(ctx, c.logger, c.retryConfig, func(attempt int) (ErrorClass, error) {
		last = nil

		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		for k, vs := range req.Header {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
		if c.config.APIKey != "" {
			httpReq.SetBasicAuth(c.config.APIKey, "")
		}
		if cachedEntry != nil {
			cache.AddConditionalHeaders(httpReq, cachedEntry)
			cache.ConditionalRequestsSent.Inc()
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Warn().Err(err).Str("url", req.URL).Int("attempt", attempt).Msg("HTTP request failed")
			catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			catalogRequestsTotal.WithLabelValues(method, "network_error").Inc()
			return ErrorClassNetwork, err
		}

		payload, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return ErrorClassNetwork, fmt.Errorf("read body: %w", err)
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		last = &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       payload,
		}
		catalogRequestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

		if httpResp.StatusCode < 400 {
			return "", nil
		}

		errClass := ClassifyStatus(httpResp.StatusCode)
		catalogErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("url", req.URL).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Catalog request error")

		if !shouldRetry(errClass) {
			// let the caller interpret the status
			return "", nil
		}
		return errClass, &HTTPError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: errClass,
			Message:    httpResp.Status,
		}
	})

	if retryErr != nil {
		var httpErr *HTTPError
		if last != nil && errors.As(retryErr, &httpErr) {
			return last, nil
		}
		return nil, retryErr
	}

	// Step 5: Handle 304 Not Modified
	if last.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("url", req.URL).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		if expiresStr := last.Header.Get("Expires"); expiresStr != "" {
			if newExpires, err := http.ParseTime(expiresStr); err == nil {
				if err := c.cache.UpdateTTL(ctx, cacheKey, newExpires); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
				}
			}
		}

		return entryToResponse(cachedEntry), nil
	}

	// Step 6: Update Cache on success
	if cacheable && last.StatusCode == http.StatusOK {
		entry := cache.NewEntry(last.StatusCode, last.Header, last.Body)
		if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("url", req.URL).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return last, nil
}

// retryConfig applies the client's retry budget to the class profile.
func (c *Client) retryConfig(errorClass ErrorClass) RetryConfig {
	cfg := RetryConfigForErrorClass(errorClass)
	cfg.MaxAttempts = c.config.MaxRetries + 1
	if c.config.InitialBackoff > 0 {
		cfg.InitialBackoff = c.config.InitialBackoff
		if cfg.MaxBackoff < cfg.InitialBackoff {
			cfg.MaxBackoff = cfg.InitialBackoff
		}
	}
	return cfg
}

func entryToResponse(entry *cache.CacheEntry) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       entry.Body,
		FromCache:  true,
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Dispatch(ctx, &Request{Method: http.MethodGet, URL: rawURL})
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the response cache, nil when caching is disabled.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
