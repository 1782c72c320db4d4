// Package client is the Go SDK of the LeafSight diagnosis API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/turtacn/LeafSight/pkg/errors"
)

const Version = "0.1.0"

// ErrInvalidConfig is returned by NewClient for unusable settings.
var ErrInvalidConfig = errors.New(errors.ErrCodeValidation, "invalid client configuration")

// Logger receives resty's request diagnostics.
type Logger interface {
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

type noopLogger struct{}

func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Debugf(string, ...interface{}) {}

// Client is the LeafSight SDK client.  It is safe for concurrent use.
type Client struct {
	baseURL      string
	apiKey       string
	userAgent    string
	timeout      time.Duration
	httpClient   *http.Client
	logger       Logger
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration

	rc *resty.Client
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Title      string `json:"error"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("leafsight: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, e.Message, e.RequestID)
}

func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// errorBody mirrors the server's JSON error shape.
type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrInvalidConfig
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid baseURL: %v", ErrInvalidConfig, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: baseURL scheme must be http or https", ErrInvalidConfig)
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		userAgent:    fmt.Sprintf("leafsight-go-sdk/%s", Version),
		timeout:      30 * time.Second,
		logger:       noopLogger{},
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rc = c.newResty()
	return c, nil
}

func (c *Client) newResty() *resty.Client {
	var rc *resty.Client
	if c.httpClient != nil {
		rc = resty.NewWithClient(c.httpClient)
	} else {
		rc = resty.New().SetTimeout(c.timeout)
	}
	rc.SetBaseURL(c.baseURL).
		SetLogger(c.logger).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent).
		SetRetryCount(c.retryMax).
		SetRetryWaitTime(c.retryWaitMin).
		SetRetryMaxWaitTime(c.retryWaitMax).
		SetRetryAfter(c.retryAfter).
		AddRetryCondition(shouldRetry)
	if c.apiKey != "" {
		rc.SetAuthToken(c.apiKey)
	}
	return rc
}

// shouldRetry retries transport failures, 429 and 5xx.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

// retryAfter honours a Retry-After header in seconds, capped at the maximum
// retry wait.  Zero falls back to resty's jittered backoff.
func (c *Client) retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}
	secs, err := strconv.Atoi(resp.Header().Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0, nil
	}
	wait := time.Duration(secs) * time.Second
	if wait > c.retryWaitMax {
		wait = c.retryWaitMax
	}
	return wait, nil
}

// request starts a request carrying a fresh request id.
func (c *Client) request(ctx context.Context) (*resty.Request, string) {
	requestID := uuid.New().String()
	return c.rc.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetError(&errorBody{}), requestID
}

// check converts a completed resty call into the SDK error model.
func (c *Client) check(resp *resty.Response, err error, requestID string) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), RequestID: requestID}
	if body, ok := resp.Error().(*errorBody); ok && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Title = body.Error
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	req, requestID := c.request(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.SetResult(result).Get(path)
	return c.check(resp, err, requestID)
}
