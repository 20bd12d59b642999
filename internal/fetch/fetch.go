// Package fetch issues upstream HTTP requests with bounded retries.
//
// A 429 answer is retried with exponential backoff (BaseDelay * 2^attempt);
// any other failure (transport error, timeout, non-2xx status) is retried with
// linear backoff (BaseDelay * (attempt+1)). When the budget is spent the
// caller receives apperr.RateLimitError or apperr.NetworkError respectively.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/metrics"
	"go.uber.org/zap"
)

// Default settings.
const (
	DefaultRetryLimit     = 3
	DefaultBaseDelay      = time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Credentials are the cookies and headers attached to authenticated requests.
type Credentials struct {
	Cookies map[string]string
	Headers map[string]string
	// Timeout overrides Config.RequestTimeout when positive.
	Timeout time.Duration
}

// CredentialsProvider supplies request credentials for authenticated fetches.
type CredentialsProvider interface {
	RequestCredentials(ctx context.Context) (Credentials, error)
}

// Config controls the retry policy.
type Config struct {
	RetryLimit     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
}

// Request describes one logical upstream request.
type Request struct {
	Method string
	URL    string
	// Form is sent url-encoded as the request body when non-nil.
	Form url.Values
	// UseAuth attaches credentials from the configured provider.
	UseAuth bool
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client executes requests under the retry policy. It never touches storage.
type Client struct {
	http  *http.Client
	cfg   Config
	creds CredentialsProvider
	log   *zap.Logger
	sleep SleepFunc
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCredentials sets the provider used for UseAuth requests.
func WithCredentials(p CredentialsProvider) Option {
	return func(c *Client) { c.creds = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithSleep replaces the backoff sleeper, mainly for tests.
func WithSleep(s SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// New constructs a Client. Zero config fields fall back to the defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	c := &Client{
		http:  &http.Client{},
		cfg:   cfg,
		log:   zap.NewNop(),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url anonymously.
func (c *Client) Get(ctx context.Context, u string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: u})
}

// PostForm posts form to url, optionally with credentials.
func (c *Client) PostForm(ctx context.Context, u string, form url.Values, useAuth bool) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: u, Form: form, UseAuth: useAuth})
}

// Pause sleeps for the base delay. Callers use it to space out consecutive
// requests on top of the retry backoff.
func (c *Client) Pause(ctx context.Context) error {
	return c.sleep(ctx, c.cfg.BaseDelay)
}

// Do executes req, retrying per the policy described in the package doc.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	limit := c.cfg.RetryLimit

	for attempt := 0; attempt < limit; attempt++ {
		resp, err := c.attempt(ctx, req)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			return resp, nil
		}

		var credErr *credentialsError
		if errors.As(err, &credErr) {
			return nil, credErr.err
		}
		if ctx.Err() != nil {
			metrics.FetchFailures.WithLabelValues("canceled").Inc()
			return nil, &apperr.NetworkError{URL: req.URL, Reason: ctx.Err().Error()}
		}

		last := attempt == limit-1
		var delay time.Duration

		if errors.Is(err, errTooManyRequests) {
			metrics.FetchAttempts.WithLabelValues("rate_limited").Inc()
			if last {
				metrics.FetchFailures.WithLabelValues("rate_limit").Inc()
				c.log.Error("rate limit persisted after retries",
					zap.String("url", req.URL), zap.Int("attempts", limit))
				return nil, &apperr.RateLimitError{URL: req.URL}
			}
			delay = c.cfg.BaseDelay * time.Duration(1<<attempt)
			c.log.Warn("rate limit hit, retrying",
				zap.String("url", req.URL), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		} else {
			metrics.FetchAttempts.WithLabelValues("failed").Inc()
			if last {
				metrics.FetchFailures.WithLabelValues("network").Inc()
				c.log.Error("request failed after retries",
					zap.String("url", req.URL), zap.Int("attempts", limit), zap.Error(err))
				return nil, &apperr.NetworkError{URL: req.URL, Reason: err.Error()}
			}
			delay = c.cfg.BaseDelay * time.Duration(attempt+1)
			c.log.Warn("request failed, retrying",
				zap.String("url", req.URL), zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay), zap.Error(err))
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &apperr.NetworkError{URL: req.URL, Reason: err.Error()}
		}
	}

	return nil, &apperr.NetworkError{URL: req.URL, Reason: "max retries exceeded"}
}

var errTooManyRequests = errors.New("429 too many requests")

type credentialsError struct{ err error }

func (e *credentialsError) Error() string { return e.err.Error() }

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	timeout := c.cfg.RequestTimeout

	var creds Credentials
	if req.UseAuth && c.creds != nil {
		var err error
		creds, err = c.creds.RequestCredentials(ctx)
		if err != nil {
			return nil, &credentialsError{err: fmt.Errorf("request credentials: %w", err)}
		}
		if creds.Timeout > 0 {
			timeout = creds.Timeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	applyCredentials(httpReq, creds)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errTooManyRequests
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// applyCredentials copies cookies and headers onto r. Host is mapped to
// r.Host and Accept-Encoding is left to the transport so it keeps handling
// decompression.
func applyCredentials(r *http.Request, creds Credentials) {
	for name, value := range creds.Headers {
		switch http.CanonicalHeaderKey(name) {
		case "Host":
			r.Host = value
		case "Accept-Encoding":
		default:
			r.Header.Set(name, value)
		}
	}
	for name, value := range creds.Cookies {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
