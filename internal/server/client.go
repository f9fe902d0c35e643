package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"tools.zach/dev/agentwatch/internal/engine"
)

var (
	// ErrNotRunning is returned when nothing is listening on the address.
	ErrNotRunning = errors.New("agentwatch serve is not running")
	// ErrAddressInUse is returned by Listen when another server owns the address.
	ErrAddressInUse = errors.New("address already in use by a running server")
)

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// baseURL is the authority used for requests; the transport ignores it and
// dials the local socket.
const baseURL = "http://agentwatch"

// maxResponseBytes caps a decoded response body.
const maxResponseBytes = 16 << 20

// Client fetches snapshots from a running server.
type Client struct {
	addr string
	http *retryablehttp.Client
}

// NewClient returns a Client that dials addr (a socket path or pipe name).
func NewClient(addr string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.Logger = nil // suppress retryablehttp's default logging
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if errors.Is(err, ErrNotRunning) {
			return false, err
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	rc.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				conn, err := dial(ctx, addr)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrNotRunning, err)
				}
				return conn, nil
			},
			MaxIdleConns:    1,
			IdleConnTimeout: 30 * time.Second,
		},
	}
	return &Client{addr: addr, http: rc}
}

// Sessions fetches the latest snapshot.
func (c *Client) Sessions(ctx context.Context) (*engine.Response, error) {
	var resp engine.Response
	if err := c.get(ctx, "/v1/sessions", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Links fetches the links declared for a project and, when sessionID is
// not empty, for one of its sessions.
func (c *Client) Links(ctx context.Context, projectPath, sessionID string) (*LinksResponse, error) {
	q := url.Values{"path": {projectPath}}
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	var resp LinksResponse
	if err := c.get(ctx, "/v1/links?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

// get issues a GET for path and decodes a JSON body into out when out is
// not nil.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s via %s: %w", path, c.addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
