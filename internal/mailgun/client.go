package mailgun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/mailgun-dsr-connector/internal/config"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/httpguard"
)

const defaultPageLimit = 100

// Client is a Mailgun mailing-lists API client
type Client struct {
	baseURL    string
	apiKey     string
	pageLimit  int
	httpClient httpguard.HTTPDoer
}

// NewClient creates a new Mailgun API client
func NewClient(cfg config.MailgunConfig) *Client {
	var doer httpguard.HTTPDoer = &http.Client{Timeout: cfg.Timeout()}
	if cfg.Breaker.Enabled {
		doer = httpguard.NewBreakerClient(doer, httpguard.BreakerSettings{
			Name:             "mailgun",
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenFor:          cfg.Breaker.OpenDuration(),
		})
	}
	return NewClientWithDoer(cfg, doer)
}

// NewClientWithDoer creates a client on top of an existing HTTP doer.
func NewClientWithDoer(cfg config.MailgunConfig, doer httpguard.HTTPDoer) *Client {
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		pageLimit:  limit,
		httpClient: doer,
	}
}

// doRequest makes an HTTP request to the Mailgun API with Basic Auth.
// rawURL must be absolute.
func (c *Client) doRequest(ctx context.Context, method, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// Mailgun uses Basic Auth with "api" as username
	req.SetBasicAuth("api", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// memberCall runs a member endpoint and decodes the response envelope
func (c *Client) memberCall(ctx context.Context, method, rawURL string) (*MemberResponse, error) {
	body, err := c.doRequest(ctx, method, rawURL)
	if err != nil {
		return nil, err
	}

	var response MemberResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parsing member response: %w", err)
	}
	return &response, nil
}

func (c *Client) listsURL() string {
	return c.baseURL + "/v3/lists"
}

func (c *Client) memberURL(address, identifier string) string {
	return fmt.Sprintf("%s/%s/members/%s", c.listsURL(), url.PathEscape(address), url.PathEscape(identifier))
}

// BreakerState reports the circuit breaker state ("closed", "half-open",
// "open"), or "" when the client runs without one.
func (c *Client) BreakerState() string {
	if b, ok := c.httpClient.(*httpguard.BreakerClient); ok {
		return b.State()
	}
	return ""
}

// Ping checks credentials with a single one-item list page.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.doRequest(ctx, http.MethodGet, c.listsURL()+"/pages?limit=1")
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("mailgun ping: %w", err)
	}
	return nil
}
