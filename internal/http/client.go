// Package http provides the retrying HTTP session shared by the release
// feed client and the downloader.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"spese-desktop/internal/log"
)

// MaxRedirects is the number of redirects followed before a request fails.
const MaxRedirects = 10

// ErrTooManyRedirects is returned when a request exceeds MaxRedirects.
var ErrTooManyRedirects = fmt.Errorf("stopped after %d redirects", MaxRedirects)

// retryStatuses are transient statuses worth another attempt.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.Code, e.URL)
}

// Retryable reports whether the status is retried by Client.
func (e *StatusError) Retryable() bool {
	return retryStatuses[e.Code]
}

// Config holds the retry and timeout policy of a Client.
type Config struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Timeout bounds connecting and waiting for response headers. Body
	// reads are bounded by the caller's context only.
	Timeout        time.Duration
	InitialBackoff time.Duration
	UserAgent      string
	// Token is sent as "Authorization: token <Token>" when set.
	Token string
}

// Client is an HTTP session with exponential-backoff retries.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Retry runs op until it succeeds, returns a permanent error, or the
// retry budget is spent. Wrap errors with backoff.Permanent to stop early.
func (c *Client) Retry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "Request failed, retrying",
			log.FieldOperation, name,
			log.FieldAttempt, attempt,
			log.FieldError, err,
			"wait", wait)
	}
	return backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, c.backOff(ctx), notify)
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.InitialBackoff,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Retries)), ctx)
}

// Get issues a GET and retries connection failures and transient
// statuses. The caller owns the body of the returned 2xx response.
func (c *Client) Get(ctx context.Context, url string, accept string) (*http.Response, error) {
	var resp *http.Response
	err := c.Retry(ctx, "GET "+url, func() error {
		r, err := c.do(ctx, http.MethodGet, url, accept)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Head sends a single HEAD request bounded by timeout. Any response,
// whatever its status, proves the host is reachable.
func (c *Client) Head(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodHead, url, "")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, url, accept string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, url, accept)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, ErrTooManyRedirects) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		serr := &StatusError{Code: resp.StatusCode, URL: url}
		if serr.Retryable() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, url, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+c.cfg.Token)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req, nil
}
