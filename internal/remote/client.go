// Package remote is the HTTP JSON client for the timeline API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/timeline"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 2
)

// ErrNotConfigured is returned by Push when no base URL was given.
var ErrNotConfigured = stderrors.New("remote url not configured")

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status may succeed on a later attempt.
func (e *HTTPError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooEarly,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// Client pushes outbox items to the timeline API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets in-call retries for 429 and 5xx responses.
func WithRetries(n int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// NewClient creates a client for baseURL. A zero timeout uses DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: DefaultMaxRetries,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pushRequest struct {
	ClientID      string                `json:"client_id"`
	InteractionID string                `json:"interaction_id"`
	ProfileID     string                `json:"profile_id"`
	FromEntityID  string                `json:"from_entity_id"`
	ToEntityID    *string               `json:"to_entity_id,omitempty"`
	Metadata      json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt     int64                 `json:"created_at"`
	Message       *timeline.Message     `json:"message,omitempty"`
	Transaction   *timeline.Transaction `json:"transaction,omitempty"`
}

type pushResponse struct {
	ID string `json:"id"`
}

// Push sends item to the messages or transactions endpoint and returns the
// server id. Errors are OutpostErrors: SYNC with a retryable detail, or
// CANCELLED when ctx was cancelled.
func (c *Client) Push(ctx context.Context, item *timeline.Item) (string, error) {
	if c.baseURL == "" {
		return "", errors.NewSync(ErrNotConfigured, false)
	}

	req := pushRequest{
		ClientID:      item.ID,
		InteractionID: item.InteractionID,
		ProfileID:     item.ProfileID,
		FromEntityID:  item.FromEntityID,
		ToEntityID:    item.ToEntityID,
		Metadata:      item.Metadata,
		CreatedAt:     item.CreatedAt,
	}
	var path string
	switch b := item.Body.(type) {
	case *timeline.Message:
		req.Message = b
		path = "/v1/messages"
	case *timeline.Transaction:
		req.Transaction = b
		path = "/v1/transactions"
	default:
		return "", errors.NewSync(fmt.Errorf("item %s has no body", item.ID), false)
	}

	var out pushResponse
	headers := map[string]string{"Idempotency-Key": item.ID}
	if err := c.doJSON(ctx, http.MethodPost, path, headers, req, &out); err != nil {
		return "", classify(ctx, err)
	}
	if out.ID == "" {
		return "", errors.NewSync(stderrors.New("response missing id"), true)
	}
	return out.ID, nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(context.Cause(ctx))
	}
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return errors.NewSync(httpErr, httpErr.Retryable())
	}
	// Transport failures: connection refused, timeouts, resets.
	return errors.NewSync(err, true)
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, headers map[string]string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	requestID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Request-ID", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		if httpErr.Retryable() && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		httpErr.Code = errPayload.Code
		httpErr.Message = errPayload.Message
		if httpErr.Message == "" {
			httpErr.Message = http.StatusText(resp.StatusCode)
		}
		return httpErr
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
