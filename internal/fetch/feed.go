// Package fetch talks to remote calendar sources: plain ICS feeds over
// HTTP and CalDAV servers. It is the only package that performs network
// I/O; deadlines are carried on the context by the caller.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	appLog "kioskcal/internal/log"
)

// FeedClient fetches a single ICS feed body.
type FeedClient interface {
	Fetch(ctx context.Context, url, username, password string) ([]byte, error)
}

// HTTPFeedClient implements FeedClient over net/http.
type HTTPFeedClient struct {
	client *http.Client
}

// NewFeedClient creates a feed client. Timeouts come from the request
// context, not the client, since the first cycle after startup allows a
// longer deadline than background cycles.
func NewFeedClient() *HTTPFeedClient {
	return &HTTPFeedClient{client: &http.Client{}}
}

// Fetch performs one GET of a feed URL. Credentials are attached as Basic
// auth only when a username is given. Any non-2xx status is an error.
func (c *HTTPFeedClient) Fetch(ctx context.Context, url, username, password string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if username != "" {
		req.SetBasicAuth(username, password)
	}

	appLog.Debug("fetch: feed request", "url", appLog.RedactURL(url))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", appLog.RedactURL(url), resp.Status)
	}

	return io.ReadAll(resp.Body)
}
