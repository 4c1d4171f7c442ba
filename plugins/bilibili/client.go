package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/metrics"
	"github.com/liuran001/BiliSummary-Go/summary/wbi"
)

// DefaultAPIBase is the upstream API host.
const DefaultAPIBase = "https://api.bilibili.com"

const (
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxErrorLen = 256
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	Cookie             string
	APIBase            string
	RateLimitPerSecond float64
	RateLimitBurst     int
	WbiKeyTTL          time.Duration
	Timeout            time.Duration
	// MaxRetries < 0 disables retries.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client provides resilient Bilibili API calls.
type Client struct {
	httpClient  *retryablehttp.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	keys        *wbi.KeyCache
	signer      *wbi.Signer
	apiBase     string
	maxRetries  int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      summary.Logger
	cookie      string
	cookieMutex sync.RWMutex
}

// New returns an instance of Bilibili client.
func New(logger summary.Logger, opts Options) *Client {
	c := &Client{
		httpClient: retryablehttp.NewClient(),
		apiBase:    strings.TrimRight(strings.TrimSpace(opts.APIBase), "/"),
		maxRetries: opts.MaxRetries,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		logger:     logger,
		cookie:     strings.Trim(strings.TrimSpace(opts.Cookie), "`\"'"),
	}
	if c.apiBase == "" {
		c.apiBase = DefaultAPIBase
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = 3
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.minBackoff <= 0 {
		c.minBackoff = 1 * time.Second
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = 5 * time.Second
		if c.maxBackoff < c.minBackoff {
			c.maxBackoff = c.minBackoff
		}
	}

	// Transport-level retries stay off; withRetry owns the retry policy.
	c.httpClient.RetryMax = 0
	c.httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.httpClient.Logger = nil
	if opts.Timeout > 0 {
		c.httpClient.HTTPClient.Timeout = opts.Timeout
	} else {
		c.httpClient.HTTPClient.Timeout = 30 * time.Second
	}

	perSecond := opts.RateLimitPerSecond
	if perSecond <= 0 {
		perSecond = 4
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 4
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)

	settings := gobreaker.Settings{
		Name:        "bilibili-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// A business error means the upstream is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || permanent(err) || errors.Is(err, context.Canceled)
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(settings)

	c.keys = wbi.NewKeyCache(c, opts.WbiKeyTTL, logger)
	c.signer = wbi.NewSigner(c.keys, logger)
	return c
}

// Signer returns the signer used for WBI endpoints.
func (c *Client) Signer() *wbi.Signer {
	return c.signer
}

// SetCookie replaces the cookie sent with every request.
func (c *Client) SetCookie(cookie string) {
	c.cookieMutex.Lock()
	c.cookie = strings.TrimSpace(cookie)
	c.cookieMutex.Unlock()
}

// HasLogin reports whether the configured cookie carries a session.
func (c *Client) HasLogin() bool {
	c.cookieMutex.RLock()
	defer c.cookieMutex.RUnlock()
	return strings.Contains(c.cookie, "SESSDATA=")
}

func (c *Client) setHeaders(req *retryablehttp.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")
	req.Header.Set("Origin", "https://www.bilibili.com")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	c.cookieMutex.RLock()
	currentCookie := c.cookie
	c.cookieMutex.RUnlock()

	if currentCookie != "" {
		req.Header.Set("Cookie", currentCookie)
	}
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.apiBase + path
}

// getBody performs one GET and returns the decoded body. Statuses listed in
// empty yield a nil body without error.
func (c *Client) getBody(ctx context.Context, endpoint, rawURL string, empty ...int) ([]byte, http.Header, error) {
	var (
		body   []byte
		header http.Header
	)
	err := c.execute(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		c.setHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		for _, code := range empty {
			if resp.StatusCode == code {
				body, header = nil, resp.Header
				return nil
			}
		}

		data, err := readBody(resp)
		if err != nil {
			return fmt.Errorf("bilibili: %s: read body: %w", endpoint, err)
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorLen)}
		}
		body, header = data, resp.Header
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, header, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) err(endpoint string) error {
	if e.Code == codeOK {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = e.Msg
	}
	return &APIError{Endpoint: endpoint, Code: e.Code, Message: msg}
}

func decodeEnvelope(endpoint string, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bilibili: decode %s: %w", endpoint, err)
	}
	if err := env.err(endpoint); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("bilibili: decode %s data: %w", endpoint, err)
	}
	return nil
}

// getJSON fetches path and decodes the data member of the response envelope into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, params wbi.Params, out any) error {
	rawURL := c.url(path)
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	body, _, err := c.getBody(ctx, endpoint, rawURL)
	if err != nil {
		return err
	}
	return decodeEnvelope(endpoint, body, out)
}

// SignedGET signs params, fetches path and decodes the data member into out.
// On a signature rejection the keys are refreshed and the request is sent once more.
func (c *Client) SignedGET(ctx context.Context, endpoint, path string, params wbi.Params, out any) error {
	err := c.getJSON(ctx, endpoint, path, c.signer.Sign(ctx, params), out)
	if !errors.Is(err, ErrSignatureRejected) {
		return err
	}
	if c.logger != nil {
		c.logger.Warn("bilibili: signature rejected, refreshing wbi keys", "endpoint", endpoint, "err", err)
	}
	c.signer.Invalidate()
	return c.getJSON(ctx, endpoint, path, c.signer.Sign(ctx, params), out)
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
	return io.ReadAll(reader)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (c *Client) execute(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.withRetry(ctx, fn)
	})
	return err
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent(err) || ctx.Err() != nil {
			return err
		}

		if attempt == c.maxRetries {
			break
		}

		wait := c.httpClient.Backoff(c.minBackoff, c.maxBackoff, attempt, nil)
		if c.logger != nil {
			c.logger.Debug("bilibili: retrying request", "attempt", attempt+1, "wait", wait, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("bilibili: retry failed")
	}
	return lastErr
}
