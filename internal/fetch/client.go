// Package fetch provides the polite HTTP layer shared by every extractor:
// robots.txt compliance, per-host rate limiting, bounded retry with
// backoff, and anti-bot block detection. Access denials (401/403) are
// returned to callers, not retried, so they can escalate to rendering.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finds-group/catalog-ingest/internal/resilience"
)

// Response is the subset of an HTTP response the pipeline consumes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Getter is the fetch interface extractors depend on.
type Getter interface {
	Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error)
}

// Options configures a Client.
type Options struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	HostRPS       float64 // politeness: requests per second per host
	RespectRobots bool
	MaxBodyBytes  int64
}

// Client is a polite HTTP client. One client is shared across all sites
// in a run so per-host limiters and robots decisions are global.
type Client struct {
	http   *http.Client
	opts   Options
	robots *robotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.HostRPS == 0 {
		opts.HostRPS = 0.5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "FindsBot/1.0"
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	// Session cookies must survive across requests: prewarm URLs exist
	// to collect them, and several sites 403 cookie-less requests.
	jar, _ := cookiejar.New(nil)
	c := &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				Proxy:               http.ProxyFromEnvironment,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	c.robots = newRobotsCache(c.http, opts.UserAgent)
	return c
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.opts.HostRPS), 1)
		c.limiters[host] = lim
	}
	return lim
}

// Get fetches a URL with politeness delay, robots checks, and retries on
// transient failures. Non-2xx responses below 500 are returned as-is;
// only transport errors, 429, and 5xx are retried.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}

	if c.opts.RespectRobots {
		allowed, err := c.robots.Allowed(ctx, u)
		if err != nil {
			// Unreadable robots is treated as disallowed; log and refuse.
			zap.L().Debug("fetch: robots unavailable, refusing",
				zap.String("host", u.Host), zap.Error(err))
			return nil, eris.Errorf("fetch: robots.txt unavailable for %s", u.Host)
		}
		if !allowed {
			return nil, eris.Errorf("fetch: blocked by robots.txt: %s", rawURL)
		}
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.opts.MaxRetries
	cfg.OnRetry = resilience.RetryLogger("fetch", u.Host)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		if err := c.limiterFor(u.Host).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: create request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: %s", rawURL), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: read body %s", rawURL), 0)
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("fetch: status %d from %s", resp.StatusCode, rawURL),
				resp.StatusCode,
			)
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, nil
	})
}

// Prewarm fetches a list of URLs to establish cookies and cache state
// before extraction. Failures are logged and ignored.
func Prewarm(ctx context.Context, g Getter, urls []string, headers map[string]string) {
	for _, u := range urls {
		if _, err := g.Get(ctx, u, headers); err != nil {
			zap.L().Debug("fetch: prewarm failed", zap.String("url", u), zap.Error(err))
		}
	}
}

// MergeHeaders overlays site-specific headers on the defaults.
func MergeHeaders(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
