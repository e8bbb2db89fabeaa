package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultAPIURL is where the tunnel agent serves its local status API.
	DefaultAPIURL = "http://127.0.0.1:4040/api/tunnels"

	DefaultPollInterval = 300 * time.Millisecond
	DefaultTimeout      = 5 * time.Second

	maxBodySize = 1 << 20
)

// errNotReady marks a poll attempt that should be retried.
var errNotReady = errors.New("status api not ready")

// Client polls the tunnel agent's local status API.
type Client struct {
	APIURL       string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// NewClient returns a Client for apiURL. An empty apiURL selects DefaultAPIURL.
func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		APIURL:       apiURL,
		PollInterval: DefaultPollInterval,
		HTTPClient:   &http.Client{Timeout: 2 * time.Second},
	}
}

// List fetches the current tunnel listing once. Connection failures and
// non-2xx answers are wrapped so callers can retry them; malformed bodies
// wrap ErrMalformedResponse.
func (c *Client) List(ctx context.Context) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotReady, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", errNotReady, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", errNotReady, err)
	}

	return ParseDescriptors(body)
}

// Discover polls the status API until every requested scheme is advertised
// for port, or until timeout elapses. Only a malformed listing or ctx
// cancellation ends the poll early.
func (c *Client) Discover(ctx context.Context, port uint16, schemes []Scheme, timeout time.Duration) (Record, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++

		reqCtx, cancel := context.WithDeadline(ctx, deadline)
		descs, err := c.List(reqCtx)
		cancel()

		switch {
		case err == nil:
			if rec, ok := Match(descs, port, schemes); ok {
				slog.Debug("tunnel discovered",
					"port", port,
					"http", urlString(rec.HTTP),
					"https", urlString(rec.HTTPS),
					"attempts", attempts)
				return rec, nil
			}
			slog.Debug("no matching tunnel yet", "port", port, "advertised", len(descs))
		case errors.Is(err, ErrMalformedResponse):
			return Record{}, err
		case ctx.Err() != nil:
			return Record{}, fmt.Errorf("discovery cancelled: %w", ctx.Err())
		default:
			slog.Debug("status api not ready", "url", c.APIURL, "error", err)
		}

		if !time.Now().Before(deadline) {
			return Record{}, fmt.Errorf("%w for port %d (schemes %v) after %s", ErrNotFound, port, schemes, timeout)
		}

		select {
		case <-ctx.Done():
			return Record{}, fmt.Errorf("discovery cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
