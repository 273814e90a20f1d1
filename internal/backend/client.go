// Package backend wraps outbound calls to the ride backend with bounded
// retry, cooperative cancellation, and auth-expiry signaling. The backend
// itself is an external collaborator; only its request contract lives here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ridelink/internal/auth"
	"github.com/example/ridelink/internal/observability"
)

var (
	// ErrUnauthorized marks a 401-class response. Fatal: never retried,
	// escalated to the session-expiry path.
	ErrUnauthorized = errors.New("backend: unauthorized")
)

// APIError is a non-retryable rejection from the backend (validation or
// conflict failures). The message is safe to surface to the user.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

// IsConflict reports whether err is a conflict-class rejection (ride
// already claimed, already cancelled, and so on).
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusConflict
}

// RetryPolicy bounds the retry loop. Delays grow linearly: the n-th retry
// waits n times the base delay.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Delay returns the wait before the given attempt (1-based; the first
// attempt never waits).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(attempt-1) * p.BaseDelay
}

// Client is the resilient request client. All calls attach the bearer
// credential; 401 short-circuits retries and invokes the auth-expired
// callback exactly once per call.
type Client struct {
	http    *http.Client
	baseURL string
	cred    *auth.Credential
	policy  RetryPolicy
	log     *slog.Logger

	// onAuthExpired funnels every 401 into the single session-teardown
	// path owned by the client actor.
	onAuthExpired func()

	// sleep is injectable so retry schedules are testable without delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy overrides the default 3-attempt linear policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithAuthExpired registers the session-expiry escalation callback.
func WithAuthExpired(fn func()) Option {
	return func(c *Client) { c.onAuthExpired = fn }
}

// WithSleep replaces the retry sleeper (tests only).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient builds a request client against baseURL using cred.
func NewClient(baseURL string, cred *auth.Credential, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		cred:    cred,
		policy:  RetryPolicy{Attempts: 3, BaseDelay: time.Second},
		log:     log,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doJSON runs one call with the bounded retry loop. Cancelled calls are
// never retried and never reported beyond the context error; authorization
// failures stop the loop immediately.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		if d := c.policy.Delay(attempt); d > 0 {
			observability.RequestRetries.Inc()
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.once(ctx, method, path, payload, nil, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		c.log.Warn("backend call failed, will retry",
			"method", method, "path", path,
			"attempt", attempt, "max_attempts", c.policy.Attempts,
			"error", err)
	}
	return fmt.Errorf("backend: %s %s failed after %d attempts: %w",
		method, path, c.policy.Attempts, lastErr)
}

// once performs a single HTTP exchange. rawBody, when non-nil, is sent with
// its own content type and bypasses the JSON payload (media uploads).
func (c *Client) once(ctx context.Context, method, path string, payload []byte, rawBody *rawRequest, out any) error {
	var reader io.Reader
	contentType := "application/json"
	if rawBody != nil {
		reader = bytes.NewReader(rawBody.body)
		contentType = rawBody.contentType
	} else if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cred.Token())
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		observability.AuthFailures.Inc()
		if c.onAuthExpired != nil {
			c.onAuthExpired()
		}
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return &transientError{fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &APIError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("backend: decode data: %w", err)
	}
	return nil
}

type rawRequest struct {
	body        []byte
	contentType string
}

// transientError marks network-level and 5xx failures as retryable.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func retryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func readMessage(r io.Reader) string {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err == nil && env.Message != "" {
		return env.Message
	}
	return "request rejected"
}
