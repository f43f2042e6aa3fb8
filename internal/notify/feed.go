package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wingsight/wingsight-agent/internal/gateway"
)

// FeedClient reads the notification feed over HTTP. The feed lives at
// its own URL rather than under the backend base, so it is fetched
// directly instead of through the gateway.
type FeedClient struct {
	url        string
	tokens     gateway.TokenSource
	httpClient *http.Client
}

// NewFeedClient creates a feed client for the given feed URL.
func NewFeedClient(feedURL string, tokens gateway.TokenSource, timeout time.Duration) *FeedClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &FeedClient{
		url:    feedURL,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the pending feed event, or nil when the feed has
// nothing waiting.
func (c *FeedClient) Fetch(ctx context.Context) (*FeedEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if token, ok := c.tokens.BearerToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed response: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var event FeedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode feed event: %w", err)
	}
	if event.AudioURL == "" {
		return nil, nil
	}
	return &event, nil
}
