package resilience

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without contacting the provider while its
// circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// maxRetryAfter caps how long a provider's Retry-After may stall a retry.
const maxRetryAfter = 10 * time.Second

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the provider in breaker logs and in the registry.
	Name string

	// Timeout bounds a single attempt. Default 10s.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64

	// Backoff between attempts. Defaults 100ms and 5s. A Retry-After sent
	// with a 429 or 503 replaces the computed wait, up to 10s.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker overrides DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, receives the client on creation and the outcome of
	// every request.
	Registry *Registry

	// UserAgent is sent on requests that do not set their own.
	UserAgent string

	// Logger receives retries and circuit breaker transitions.
	Logger zerolog.Logger
}

// DefaultClientConfig returns three retries with exponential backoff behind a
// circuit breaker.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// SingleAttemptConfig returns a configuration without retries. The circuit
// breaker still guards the provider.
func SingleAttemptConfig(name string) ClientConfig {
	cfg := DefaultClientConfig(name)
	cfg.MaxRetries = 0
	return cfg
}

// Client sends provider requests through a circuit breaker, retrying
// throttled and failed ones.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a client and registers it when cfg.Registry is set.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.Logger == nil {
		cbConfig.Logger = &cfg.Logger
	}

	c := &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		config:         cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.config.Name
}

// Do sends req, retrying 5xx, 429 and transport errors with exponential
// backoff. A retryable status that outlasts the retries is returned as the
// response, not as an error. While the breaker is open Do fails fast with
// ErrCircuitOpen. The request context bounds all attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	resp, err := c.do(req)
	c.record(resp, err)
	return resp, err
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.InitialInterval
	exp.MaxInterval = c.config.MaxInterval
	exp.MaxElapsedTime = 0 // bounded by MaxRetries
	policy := &retryAfterBackOff{BackOff: exp}
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, c.config.MaxRetries), ctx)

	var last *http.Response
	keep := func(resp *http.Response) {
		if last != nil && last != resp {
			last.Body.Close()
		}
		last = resp
	}

	operation := func() error {
		// Retryable statuses come back as errors so the breaker counts them.
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // closed by keep or the caller
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if retryable(r.StatusCode) {
				return r, &StatusError{StatusCode: r.StatusCode, RetryAfter: retryAfter(r.Header)}
			}
			return r, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if resp != nil {
			keep(resp)
		}

		var se *StatusError
		if errors.As(err, &se) {
			policy.hint = se.RetryAfter
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.config.Logger.Debug().
			Err(err).
			Str("provider", c.config.Name).
			Str("url", req.URL.Redacted()).
			Dur("wait", wait).
			Msg("retrying provider request")
	}

	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		if last != nil && !errors.Is(err, ErrCircuitOpen) {
			var se *StatusError
			if errors.As(err, &se) {
				return last, nil
			}
		}
		if last != nil {
			last.Body.Close()
		}
		return nil, err
	}
	return last, nil
}

func (c *Client) record(resp *http.Response, err error) {
	if c.config.Registry == nil {
		return
	}
	switch {
	case err != nil:
		c.config.Registry.RecordFailure(c.config.Name, err)
	case retryable(resp.StatusCode):
		c.config.Registry.RecordFailure(c.config.Name, &StatusError{StatusCode: resp.StatusCode})
	default:
		c.config.Registry.RecordSuccess(c.config.Name)
	}
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the counts of the breaker's current interval.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}

// StatusError is a provider response worth retrying: a 5xx or a 429.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return "provider throttled: " + http.StatusText(e.StatusCode)
	}
	return "server error: " + http.StatusText(e.StatusCode)
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return min(d, maxRetryAfter)
		}
	}
	return 0
}

// retryAfterBackOff waits for the provider's Retry-After once when one was
// given, and otherwise defers to the wrapped policy.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if b.hint > 0 && next != backoff.Stop {
		next, b.hint = b.hint, 0
	}
	return next
}
