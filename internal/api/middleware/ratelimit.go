package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/smogview/smogview/internal/api/models"
)

// RateLimitConfig is a request budget per client and window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Default budgets. Measurement series may reach the provider's archival
// endpoint, so they get the tighter one.
var (
	SeriesRateLimit = RateLimitConfig{
		RequestLimit: 30,
		WindowLength: time.Minute,
	}

	StandardRateLimit = RateLimitConfig{
		RequestLimit: 100,
		WindowLength: time.Minute,
	}
)

// OrDefault returns c, or def when c has no budget set.
func (c RateLimitConfig) OrDefault(def RateLimitConfig) RateLimitConfig {
	if c.RequestLimit <= 0 {
		return def
	}
	if c.WindowLength <= 0 {
		c.WindowLength = def.WindowLength
	}
	return c
}

// RateLimitByIP limits each client IP across the routes it wraps. The IP is
// the one chi's RealIP middleware settled on.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

// RateLimitByIPAndEndpoint limits each client IP per request path, so every
// station and sensor series has its own budget.
func RateLimitByIPAndEndpoint(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

// limitExceeded answers with a 429 problem. Retry-After counts down to the
// end of the current window, read from the X-RateLimit-Reset header httprate
// sets before calling the handler.
func limitExceeded(cfg RateLimitConfig) http.HandlerFunc {
	detail := fmt.Sprintf("at most %d requests per %s are allowed", cfg.RequestLimit, cfg.WindowLength)
	return func(w http.ResponseWriter, r *http.Request) {
		retryAfter := cfg.WindowLength
		if reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 && d < retryAfter {
				retryAfter = d
			}
		}

		models.NewTooManyRequests(GetRequestID(r.Context()), detail).
			WithInstance(r.URL.Path).
			WithRetryAfter(retryAfter).
			Write(w)
	}
}
