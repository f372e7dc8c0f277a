package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrStatus is returned by Fetch for responses outside the 2xx range.
var ErrStatus = errors.New("transport: unexpected status")

// DefaultMaxBodyBytes caps a downloaded body when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// Fetcher downloads resources. The scanning host fetches every URL it is
// asked to scan through this interface.
type Fetcher interface {
	// Fetch downloads url with a GET request.
	Fetch(ctx context.Context, url string) (*Response, error)

	// Stats returns transport statistics.
	Stats() *TransportStats
}

// TransportStats holds aggregate statistics for the transport client.
type TransportStats struct {
	TotalRequests int64
	Failed        int64
	TotalBytes    int64
	TotalDuration time.Duration
	AvgDuration   time.Duration
}

// ClientOptions holds configuration for creating a new Client.
type ClientOptions struct {
	// Timeout bounds one download, body included.
	Timeout time.Duration

	// ProxyURL is the proxy URL (HTTP or SOCKS5).
	ProxyURL string

	// DisableRedirects stops at the first response instead of following
	// redirects.
	DisableRedirects bool

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// RandomUserAgent sends a random browser User-Agent instead of the
	// default one.
	RandomUserAgent bool

	// MaxRPS is the maximum requests per second (0 = unlimited).
	MaxRPS float64

	// MaxBodyBytes truncates larger bodies (0 = DefaultMaxBodyBytes).
	MaxBodyBytes int64
}

// Client is the default Fetcher, backed by net/http.
type Client struct {
	httpClient *http.Client
	opts       ClientOptions
	limiter    *rate.Limiter

	mu              sync.RWMutex
	totalRequests   int64
	failed          int64
	totalBytes      int64
	totalDurationNs int64
}

// Compile-time check that Client implements Fetcher.
var _ Fetcher = (*Client)(nil)

// NewClient creates a new Client with the given options.
func NewClient(opts ClientOptions) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
		ForceAttemptHTTP2: true,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := parseProxy(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
	if opts.DisableRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	c := &Client{
		httpClient: client,
		opts:       opts,
	}
	if opts.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return c, nil
}

func parseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid proxy URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid proxy URL %q: missing scheme or host", raw)
	}
	return u, nil
}

// Fetch downloads rawURL. Unlike the browser, the host waits for the rate
// limiter instead of dropping. Bodies over MaxBodyBytes are truncated and
// flagged.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("transport: rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: creating request: %w", err)
	}
	if c.opts.RandomUserAgent {
		req.Header.Set("User-Agent", RandomUserAgent())
	} else {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(0, time.Since(start), true)
		return nil, fmt.Errorf("transport: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	// Read one byte past the limit to detect truncation.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	duration := time.Since(start)
	if err != nil {
		c.record(int64(len(body)), duration, true)
		return nil, fmt.Errorf("transport: reading body of %s: %w", rawURL, err)
	}

	truncated := int64(len(body)) > c.opts.MaxBodyBytes
	if truncated {
		body = body[:c.opts.MaxBodyBytes]
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Truncated:  truncated,
		Duration:   duration,
		URL:        resp.Request.URL.String(),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(int64(len(body)), duration, true)
		return out, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, rawURL)
	}

	c.record(int64(len(body)), duration, false)
	return out, nil
}

func (c *Client) record(bytes int64, d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalBytes += bytes
	c.totalDurationNs += d.Nanoseconds()
	if failed {
		c.failed++
	}
}

// Stats returns aggregate transport statistics.
func (c *Client) Stats() *TransportStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &TransportStats{
		TotalRequests: c.totalRequests,
		Failed:        c.failed,
		TotalBytes:    c.totalBytes,
		TotalDuration: time.Duration(c.totalDurationNs),
	}
	if c.totalRequests > 0 {
		stats.AvgDuration = time.Duration(c.totalDurationNs / c.totalRequests)
	}
	return stats
}
