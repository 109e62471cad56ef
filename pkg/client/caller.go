// Package client provides the rate-limited HTTP caller for the shop admin
// API: token-bucket admission, bearer auth with refresh-and-retry-once on
// 401, and bounded exponential backoff on transient failures.
package client

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/logging"
)

// Prometheus metrics for admin API calls.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mallsync_api_requests_total",
		Help: "Total admin API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mallsync_api_request_duration_seconds",
		Help:    "Admin API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"endpoint"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mallsync_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mallsync_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	tokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mallsync_api_token_refreshes_total",
		Help: "Total forced token refreshes after a 401 response",
	})
)

// Limiter admits outbound calls. Satisfied by *ratelimit.Bucket.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config holds the caller configuration.
type Config struct {
	// Limiter gates every attempt, retries included.
	Limiter Limiter

	// Tokens supplies bearer credentials.
	Tokens TokenProvider

	// MaxRetries is the number of retries after the initial attempt for
	// transient failures (429, 5xx, network). A call is attempted at most
	// MaxRetries+1 times.
	MaxRetries int

	// BackoffBase is the base of the exponential backoff (base * 2^attempt).
	BackoffBase time.Duration

	// MaxJitter is the upper bound of the uniform jitter added per backoff.
	MaxJitter time.Duration

	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(limiter Limiter, tokens TokenProvider) Config {
	return Config{
		Limiter:     limiter,
		Tokens:      tokens,
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		MaxJitter:   300 * time.Millisecond,
		Timeout:     15 * time.Second,
	}
}

// Caller executes single logical calls against the admin API.
type Caller struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new caller.
func New(cfg Config) (*Caller, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = 300 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Caller{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logging.NewLogger("api-caller"),
	}, nil
}

// RequestFunc builds the HTTP request for one attempt. It is invoked fresh
// per attempt so request bodies are never replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Do executes one logical call.
//
// Policy: a 401 triggers exactly one forced token refresh followed by one
// re-attempt; a second 401 is a fatal auth error. 429 and 5xx responses are
// retried up to MaxRetries with exponential backoff plus jitter, honoring a
// Retry-After header when present. Other 4xx responses propagate
// immediately. Every attempt, retries included, consumes a rate limiter
// token. The retry loop is a bounded counter, never recursion.
func (c *Caller) Do(ctx context.Context, reqFn RequestFunc) (*http.Response, error) {
	var lastErr error
	refreshed := false

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.config.Limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := reqFn(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		endpoint := req.URL.Path

		token, err := c.config.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		// Network/timeout failure: transient.
		if err != nil {
			apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			lastErr = &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}

			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Admin API request failed")

			if attempt == c.config.MaxRetries {
				break
			}
			if err := c.sleepBackoff(ctx, attempt, 0, ErrorClassNetwork); err != nil {
				return nil, err
			}
			continue
		}

		apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		class := classifyStatus(resp.StatusCode)

		switch {
		case class == "":
			// Success.
			if attempt > 0 || refreshed {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return resp, nil

		case class == ErrorClassAuth:
			resp.Body.Close()
			if refreshed {
				// Second 401: the refreshed token was rejected too.
				return nil, &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: ErrorClassAuth,
					Message:    "token rejected after forced refresh",
					Err:        ErrAuthExpired,
				}
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Msg("Access token expired, forcing refresh")
			tokenRefreshesTotal.Inc()

			if _, err := c.config.Tokens.ForceRefresh(ctx); err != nil {
				return nil, &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: ErrorClassAuth,
					Message:    "forced refresh failed",
					Err:        fmt.Errorf("%w: %v", ErrTokenRefresh, err),
				}
			}
			refreshed = true
			// The refresh re-attempt does not consume the transient budget.
			attempt--
			continue

		case shouldRetry(class):
			retryAfter := parseRetryAfter(resp.Header)
			resp.Body.Close()
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: class,
				Message:    resp.Status,
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Transient admin API error")

			if attempt == c.config.MaxRetries {
				break
			}
			if err := c.sleepBackoff(ctx, attempt, retryAfter, class); err != nil {
				return nil, err
			}
			continue

		default:
			// Non-retryable client error: propagate immediately.
			resp.Body.Close()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: class,
				Message:    resp.Status,
			}
		}
	}

	// All transient retries exhausted.
	class := ErrorClassNetwork
	if apiErr, ok := lastErr.(*APIError); ok {
		class = apiErr.ErrorClass
	}
	apiRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Int("max_retries", c.config.MaxRetries).
		Str("error_class", string(class)).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.config.MaxRetries+1, lastErr)
}

// sleepBackoff waits base*2^attempt plus uniform jitter, or the upstream's
// Retry-After when it supplied one.
func (c *Caller) sleepBackoff(ctx context.Context, attempt int, retryAfter time.Duration, class ErrorClass) error {
	wait := c.config.BackoffBase * (1 << attempt)
	wait += time.Duration(rand.Int63n(int64(c.config.MaxJitter)))
	if retryAfter > 0 {
		wait = retryAfter
	}

	apiRetriesTotal.WithLabelValues(string(class)).Inc()
	c.logger.Debug().
		Dur("backoff", wait).
		Int("attempt", attempt).
		Str("error_class", string(class)).
		Msg("Retrying request after backoff")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header in either the delay-seconds
// or the HTTP-date form. Returns 0 when absent, unparseable, or already
// in the past.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Caller) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
