// Package httpguard provides the HTTP transport seam used by upstream API
// clients, with an optional circuit breaker that fails fast while a provider
// is returning server errors. It never retries a request.
package httpguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *BreakerClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("httpguard: circuit open")

// errServerStatus marks a 5xx/429 response as a failure for breaker accounting only.
var errServerStatus = errors.New("httpguard: server error status")

// BreakerSettings configures a BreakerClient.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening
	OpenFor          time.Duration // how long to stay open before a half-open probe
}

// BreakerClient wraps an HTTPDoer with a circuit breaker.
type BreakerClient struct {
	client HTTPDoer
	cb     *gobreaker.CircuitBreaker[*http.Response]
}

// NewBreakerClient wraps client. Zero settings fall back to 5 failures / 30s.
func NewBreakerClient(client HTTPDoer, st BreakerSettings) *BreakerClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if st.FailureThreshold == 0 {
		st.FailureThreshold = 5
	}
	if st.OpenFor <= 0 {
		st.OpenFor = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: 1,
		Timeout:     st.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("httpguard: circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &BreakerClient{
		client: client,
		cb:     gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Do executes the request through the breaker. Client errors (4xx other than
// 429) count as successes: a 404 is a normal answer, not a sick upstream.
// Server-error responses are returned to the caller unchanged.
func (b *BreakerClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		if isServerFailure(resp.StatusCode) {
			return resp, errServerStatus
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w (%s %s%s)", ErrCircuitOpen, req.Method, req.URL.Host, req.URL.Path)
	}
	return resp, err
}

// State reports the breaker state, for health output.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

func isServerFailure(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
