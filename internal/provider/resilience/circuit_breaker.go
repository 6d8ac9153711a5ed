// Package resilience guards calls to the upstream air quality API with a
// circuit breaker, per-call timeouts and bounded retries.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Trip thresholds used by DefaultReadyToTrip.
const (
	tripMinRequests         = 5
	tripFailureRatio        = 0.5
	tripConsecutiveFailures = 3
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	Name string

	// MaxRequests is the number of probe requests let through while
	// half-open (default: 1).
	MaxRequests uint32

	// Interval clears the counts while closed. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing
	// (default: 30 seconds).
	Timeout time.Duration

	// ReadyToTrip decides when to open (default: DefaultReadyToTrip).
	ReadyToTrip func(counts gobreaker.Counts) bool

	// Logger, if set, receives state transitions.
	Logger *zerolog.Logger
}

// DefaultCircuitBreakerConfig returns the configuration used for the
// provider client.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the breaker after three failures in a row, or once
// at least five requests were made and half of them failed. An unreachable
// host fails every request, so the first rule catches outages early.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= tripConsecutiveFailures {
		return true
	}
	if counts.Requests < tripMinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= tripFailureRatio
}

// NewCircuitBreaker creates a circuit breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
	}

	if cfg.Logger != nil {
		logger := cfg.Logger.With().Str("provider", cfg.Name).Logger()
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			ev := logger.Info()
			if to == gobreaker.StateOpen {
				ev = logger.Warn()
			}
			ev.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		}
	}

	return gobreaker.NewCircuitBreaker[T](settings)
}
