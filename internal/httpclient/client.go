// Package httpclient issues one logical HTTP call with a retry strategy.
//
// Transient failures (connection errors, attempt timeouts, 5xx, 408, 429) are
// retried according to the Strategy; everything else surfaces on the first
// attempt. Each attempt rebuilds the *http.Request, so the body is re-sent in
// full. Idempotency is the caller's responsibility.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/logger"
)

const (
	defaultHTTPTimeout  = 12 * time.Second
	defaultMaxBodyBytes = 16 << 20
)

// Request is a replayable HTTP request description.
type Request struct {
	Op     string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Client is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	strategy     Strategy
	maxBodyBytes int64
	timer        func() backoff.Timer
	log          *logrus.Entry
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimer replaces the timer used between attempts (useful for tests).
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) {
		c.timer = newTimer
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

func WithLogger(entry *logrus.Entry) Option {
	return func(c *Client) {
		if entry != nil {
			c.log = entry
		}
	}
}

func New(strategy Strategy, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		strategy:     strategy,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.New().WithField("component", "httpclient")
	}
	return c
}

func (c *Client) Strategy() Strategy { return c.strategy }

// Do runs req under the client's strategy. On exhaustion the last observed
// error is returned tagged with the number of attempts made.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	attempts := 0
	var resp *Response
	var lastErr error

	op := func() error {
		attempts++
		r, err := c.once(ctx, req)
		if err == nil {
			resp = r
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !apperr.Retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithFields(logrus.Fields{
			"op":      req.Op,
			"attempt": attempts,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		}).Warn("retrying request")
	}

	b := backoff.WithContext(c.strategy.backOff(), ctx)
	var err error
	if c.timer != nil {
		err = backoff.RetryNotifyWithTimer(op, b, notify, c.timer())
	} else {
		err = backoff.RetryNotify(op, b, notify)
	}
	if err == nil {
		resp.Attempts = attempts
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperr.WithAttempts(apperr.FromContext(req.Op, ctxErr), attempts)
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, apperr.WithAttempts(lastErr, attempts)
}

// DoJSON runs req and decodes a 2xx body into target. Decode failures are not retried.
func (c *Client) DoJSON(ctx context.Context, req Request, target any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return &apperr.Error{Kind: apperr.KindDecoding, Op: req.Op, Attempts: resp.Attempts,
			Err: fmt.Errorf("decode response: %w body=%s", err, snippet(resp.Body))}
	}
	return nil
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, req.Op, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if req.Body != nil && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(hr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.FromContext(req.Op, ctxErr)
		}
		return nil, apperr.New(apperr.KindNetwork, req.Op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.FromContext(req.Op, ctxErr)
		}
		return nil, apperr.New(apperr.KindNetwork, req.Op, fmt.Errorf("read body: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, apperr.Server(req.Op, res.StatusCode, string(data))
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// IsStatus reports whether err carries the given upstream status code.
func IsStatus(err error, status int) bool {
	var ae *apperr.Error
	return errors.As(err, &ae) && ae.StatusCode == status
}
