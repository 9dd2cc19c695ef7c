package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	catalogRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_rate_limit_remaining",
		Help: "Requests remaining in the current catalog rate limit window",
	})

	catalogRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_blocks_total",
		Help: "Total number of requests rejected because the reset was too far away",
	})

	catalogRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_waits_total",
		Help: "Total number of requests held back until the rate limit window reset",
	})

	catalogRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_throttles_total",
		Help: "Total number of requests throttled in the warning band",
	})
)

const (
	// DefaultThrottleDelay is the pause applied in the warning band.
	DefaultThrottleDelay = 1 * time.Second

	// DefaultMaxBlock is the longest a request waits for a window reset before
	// it is rejected.
	DefaultMaxBlock = 60 * time.Second
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithThrottleDelay sets the pause applied in the warning band.
func WithThrottleDelay(d time.Duration) Option {
	return func(t *Tracker) { t.throttleDelay = d }
}

// WithMaxBlock sets the longest wait for a window reset.
func WithMaxBlock(d time.Duration) Option {
	return func(t *Tracker) { t.maxBlock = d }
}

// Tracker monitors the catalog rate limit and gates requests.
// State lives in Redis when a client is given, otherwise in process memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.Mutex
	local *RateLimitState

	throttleDelay time.Duration
	maxBlock      time.Duration
}

// NewTracker creates a new rate limit tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
		maxBlock:      DefaultMaxBlock,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState retrieves the current rate limit state.
// Returns a default healthy state if nothing was recorded or the recorded
// window has already reset.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.local == nil || t.local.HasReset() {
			return defaultState(), nil
		}
		state := *t.local
		return &state, nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &RateLimitState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	if state.HasReset() {
		return defaultState(), nil
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses rate limit headers and records the new state.
// A Retry-After header (sent with 429 responses) empties the budget until the
// given time. Responses without rate limit headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	now := time.Now()
	var state *RateLimitState

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		wait, err := parseRetryAfter(retryAfter, now)
		if err != nil {
			return fmt.Errorf("parse Retry-After header: %w", err)
		}
		state = &RateLimitState{
			Remaining:  0,
			ResetAt:    now.Add(wait),
			LastUpdate: now,
		}
	} else {
		remainStr := headers.Get("X-RateLimit-Remaining")
		if remainStr == "" {
			return nil
		}

		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
		}

		resetStr := headers.Get("X-RateLimit-Reset")
		if resetStr == "" {
			return fmt.Errorf("X-RateLimit-Reset header missing")
		}

		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
		}

		state = &RateLimitState{
			Remaining:  remain,
			ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
			LastUpdate: now,
		}
	}
	state.UpdateHealth()

	if err := t.store(ctx, state); err != nil {
		return err
	}

	catalogRateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Catalog rate limit critical - requests will wait for reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Catalog rate limit warning - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Catalog rate limit state updated")
	}

	return nil
}

func (t *Tracker) store(ctx context.Context, state *RateLimitState) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// ShouldAllowRequest gates a request on the current state.
// In the critical band it waits for the window to reset, unless the reset is
// further away than the tracker's max block, in which case it returns false.
// In the warning band it sleeps for the throttle delay. Context cancellation
// while waiting returns false and the context error.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		wait := state.TimeUntilReset()
		if wait > t.maxBlock {
			t.logger.Error().
				Int("remaining", state.Remaining).
				Dur("wait_duration", wait).
				Msg("Catalog rate limit critical - blocking request")
			catalogRateLimitBlocksTotal.Inc()
			return false, nil
		}

		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Catalog rate limit critical - waiting for reset")
		catalogRateLimitWaitsTotal.Inc()
		if err := sleep(ctx, wait); err != nil {
			return false, err
		}
		return true, nil
	}

	if state.NeedsThrottling() {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Catalog rate limit warning - throttling request")
		catalogRateLimitThrottlesTotal.Inc()
		if err := sleep(ctx, t.throttleDelay); err != nil {
			return false, err
		}
	}

	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("negative delay %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, err
	}
	if at.Before(now) {
		return 0, nil
	}
	return at.Sub(now), nil
}
