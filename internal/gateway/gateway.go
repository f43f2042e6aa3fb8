// Package gateway provides the HTTP client for the remote WingSight
// backend. It attaches credentials, normalizes endpoint paths against
// the configured base URL and maps transport and HTTP failures into a
// uniform error type. The gateway performs no retries; retry policy
// belongs to callers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wingsight/wingsight-agent/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	// gatewayMarker identifies managed API-gateway hosts, which route
	// requests through a fixed version segment.
	gatewayMarker = "execute-api"

	versionSegment = "v1"

	defaultTimeout = 30 * time.Second
)

// TokenSource yields a bearer token for outgoing calls, or false when
// the caller should proceed unauthenticated.
type TokenSource interface {
	BearerToken() (string, bool)
}

// Config holds gateway configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
}

// Client is the backend gateway.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a gateway client. The token source is injected once
// here so that every outgoing call is authenticated when possible.
func NewClient(cfg Config, tokens TokenSource) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}

	return &Client{
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
	}
}

// CallOptions customizes a single gateway call.
type CallOptions struct {
	Method  string // defaults to POST
	Body    interface{}
	Query   url.Values
	Headers map[string]string
}

// Result is a successful gateway response. The body is either JSON or
// an opaque text payload; Decode and Text cover both.
type Result struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body as JSON.
func (r *Result) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Text returns the raw response body.
func (r *Result) Text() string {
	return string(r.Body)
}

// Error is a failed gateway call. Status is zero when no response was
// received at all (transport failure).
type Error struct {
	Status int
	Body   string
	cause  error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway error %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("gateway transport failure: %v", e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Transport reports whether the call failed without any response.
func (e *Error) Transport() bool { return e.Status == 0 }

// Endpoint resolves an endpoint name against the base URL. Managed
// API-gateway hosts get the version segment prefixed; direct backends
// get the endpoint appended as-is. Trailing slashes on the base are
// normalized before concatenation.
func (c *Client) Endpoint(endpoint string) string {
	base := strings.TrimRight(c.baseURL, "/")
	if strings.Contains(base, gatewayMarker) {
		return base + "/" + versionSegment + "/" + endpoint
	}
	return base + "/" + endpoint
}

// Call issues one request against the named endpoint. Requests default
// to POST to sidestep cross-origin preflight behavior on the managed
// gateway; reads pass Method explicitly. Caller headers override the
// defaults on conflict.
func (c *Client) Call(ctx context.Context, endpoint string, opts CallOptions) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway rate limiter: %w", err)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	target := c.Endpoint(endpoint)
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var reqBody io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token, ok := c.tokens.BearerToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGatewayRequest(endpoint, "transport_failure", time.Since(start))
		return nil, &Error{cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordGatewayRequest(endpoint, "transport_failure", time.Since(start))
		return nil, &Error{cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordGatewayRequest(endpoint, "rejected", time.Since(start))
		return nil, &Error{Status: resp.StatusCode, Body: string(body)}
	}

	metrics.RecordGatewayRequest(endpoint, "success", time.Since(start))
	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}
