package resilience_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smogview/smogview/internal/provider/resilience"
)

// neverTrip keeps the breaker closed for tests that exercise retries.
func neverTrip(name string) *resilience.CircuitBreakerConfig {
	cb := resilience.DefaultCircuitBreakerConfig(name)
	cb.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	return &cb
}

// fastConfig retries quickly behind a breaker that never opens.
func fastConfig(name string, retries uint64) resilience.ClientConfig {
	return resilience.ClientConfig{
		Name:            name,
		Timeout:         time.Second,
		MaxRetries:      retries,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		CircuitBreaker:  neverTrip(name),
	}
}

// get sends a GET to url through client and closes any response body.
func get(t *testing.T, client *resilience.Client, url string) (int, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	if resp == nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, err
}

// sequence serves the given statuses in order, repeating the last one.
func sequence(attempts *atomic.Int32, statuses ...int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		n := int(attempts.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
	}
}

func TestClient_Success(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(sequence(&attempts, http.StatusOK))
	defer server.Close()

	status, err := get(t, resilience.NewClient(resilience.DefaultClientConfig("gios")), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_RetriesUntilSuccess(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
	}{
		{"server errors", []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK}},
		{"throttled", []int{http.StatusTooManyRequests, http.StatusOK}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(sequence(&attempts, tt.statuses...))
			defer server.Close()

			status, err := get(t, resilience.NewClient(fastConfig("gios", 5)), server.URL)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, int32(len(tt.statuses)), attempts.Load())
		})
	}
}

func TestClient_ExhaustedRetriesReturnLastResponse(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(sequence(&attempts, http.StatusInternalServerError, http.StatusBadGateway))
	defer server.Close()

	status, err := get(t, resilience.NewClient(fastConfig("gios", 2)), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(sequence(&attempts, http.StatusNotFound))
	defer server.Close()

	status, err := get(t, resilience.NewClient(fastConfig("gios", 3)), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_HonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	var first, gap atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			first.Store(time.Now().UnixNano())
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap.Store(time.Now().UnixNano() - first.Load())
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	status, err := get(t, resilience.NewClient(fastConfig("gios", 1)), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.GreaterOrEqual(t, time.Duration(gap.Load()), 900*time.Millisecond,
		"the provider's Retry-After replaces the 5ms backoff")
}

func TestClient_CircuitOpensAndFailsFast(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(sequence(&attempts, http.StatusInternalServerError))
	defer server.Close()

	client := resilience.NewClient(resilience.SingleAttemptConfig("gios"))
	for i := 0; i < 3; i++ {
		_, _ = get(t, client, server.URL)
	}
	require.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	_, err := get(t, client, server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), attempts.Load(), "an open breaker does not reach the provider")
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("gios", 0)
	cfg.Timeout = 50 * time.Millisecond

	_, err := get(t, resilience.NewClient(cfg), server.URL)
	assert.Error(t, err)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := resilience.NewClient(fastConfig("gios", 3)).Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
}

func TestClient_UserAgent(t *testing.T) {
	agents := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("gios", 0)
	cfg.UserAgent = "smogview-test"
	client := resilience.NewClient(cfg)

	_, err := get(t, client, server.URL)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "smogview-test", <-agents)
	assert.Equal(t, "custom", <-agents)
}

func TestClient_LogsBreakerTransitions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var buf bytes.Buffer
	cfg := resilience.SingleAttemptConfig("gios")
	cfg.Logger = zerolog.New(&buf)
	client := resilience.NewClient(cfg)

	for i := 0; i < 3; i++ {
		_, _ = get(t, client, server.URL)
	}

	assert.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())
	assert.Contains(t, buf.String(), `"to":"open"`)
	assert.Contains(t, buf.String(), `"provider":"gios"`)
}

func TestClient_RecordsOutcomeInRegistry(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("gios", 0)
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	_, err := get(t, client, server.URL)
	require.NoError(t, err)

	health := registry.GetHealth("gios")
	require.NotNil(t, health)
	require.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	status.Store(http.StatusTooManyRequests)
	_, err = get(t, client, server.URL)
	require.NoError(t, err)

	health = registry.GetHealth("gios")
	require.NotNil(t, health.LastFailureAt)
	assert.Equal(t, "provider throttled: Too Many Requests", health.LastError)
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("gios")

	assert.Equal(t, "gios", cfg.Name)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(3), cfg.MaxRetries)
	require.NotNil(t, cfg.CircuitBreaker)

	assert.Zero(t, resilience.SingleAttemptConfig("gios").MaxRetries)
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("gios")

	assert.Equal(t, "gios", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.NotNil(t, cfg.ReadyToTrip)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"too few requests", gobreaker.Counts{Requests: 4, TotalFailures: 2, ConsecutiveFailures: 2}, false},
		{"three failures in a row", gobreaker.Counts{Requests: 3, TotalFailures: 3, ConsecutiveFailures: 3}, true},
		{"low failure rate", gobreaker.Counts{Requests: 10, TotalFailures: 4, ConsecutiveFailures: 1}, false},
		{"half of the requests failed", gobreaker.Counts{Requests: 10, TotalFailures: 5, ConsecutiveFailures: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "server error: Internal Server Error",
		(&resilience.StatusError{StatusCode: http.StatusInternalServerError}).Error())
	assert.Equal(t, "provider throttled: Too Many Requests",
		(&resilience.StatusError{StatusCode: http.StatusTooManyRequests}).Error())
}
