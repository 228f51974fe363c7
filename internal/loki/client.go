// Package loki queries a Loki instance for audit lines and stages them for forwarding.
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const queryRangePath = "/loki/api/v1/query_range"

// Client is a minimal Loki HTTP API client. It never retries; a failed
// query fails the whole cycle and the next tick starts over from the
// checkpoint.
type Client struct {
	baseURL    string
	tenant     string
	username   string
	password   string
	httpClient *http.Client
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("loki: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithTenant sets the X-Scope-OrgID header for multi-tenant Loki.
func WithTenant(tenant string) Option {
	return func(c *Client) { c.tenant = tenant }
}

// WithBasicAuth enables HTTP basic authentication.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// NewClient creates a Client for the Loki instance at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryRangeParams are the query_range parameters the forwarder uses.
// Start and End are unix seconds.
type QueryRangeParams struct {
	Query string
	Limit int
	Start int64
	End   int64
}

// QueryResponse is the subset of the query_range answer the forwarder reads.
type QueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string   `json:"resultType"`
		Result     []Stream `json:"result"`
		Stats      struct {
			Summary struct {
				TotalEntriesReturned int `json:"totalEntriesReturned"`
			} `json:"summary"`
		} `json:"stats"`
	} `json:"data"`
}

// Stream is one labelled stream; each value is [timestamp_ns, line].
type Stream struct {
	Labels map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// TotalEntries returns data.stats.summary.totalEntriesReturned.
func (r *QueryResponse) TotalEntries() int {
	return r.Data.Stats.Summary.TotalEntriesReturned
}

// Lines returns every log line in stream order. Malformed values are skipped.
func (r *QueryResponse) Lines() []string {
	var lines []string
	for _, s := range r.Data.Result {
		for _, v := range s.Values {
			if len(v) < 2 {
				continue
			}
			lines = append(lines, v[1])
		}
	}
	return lines
}

// QueryRange calls GET /loki/api/v1/query_range.
// Returns *APIError for non-2xx responses.
func (c *Client) QueryRange(ctx context.Context, p QueryRangeParams) (*QueryResponse, error) {
	q := url.Values{}
	q.Set("query", p.Query)
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("start", strconv.FormatInt(p.Start, 10))
	q.Set("end", strconv.FormatInt(p.End, 10))

	var out QueryResponse
	if err := c.getJSON(ctx, queryRangePath, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("loki: %w", err)
	}
	if c.tenant != "" {
		req.Header.Set("X-Scope-OrgID", c.tenant)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loki: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("loki: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyStr := string(body)
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("loki: decode response: %w", err)
	}
	return nil
}
