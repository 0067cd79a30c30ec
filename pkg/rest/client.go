// Package rest is the authenticated, rate-limited HTTP transport every
// request/response call goes through. It combines the auth header, the
// three-tier rate limiter and typed error classification in one place so
// business callers only ever see an Envelope or one of the SDK's error
// types.
//
// The transport performs no retries; retry policy belongs to the caller.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
	"github.com/veiloq/broker-connector/pkg/ratelimit"
)

// AuthProvider supplies the Authorization header value, the venue's
// "{clientID}:{accessToken}" pair. An empty value with a nil error means
// the call goes out unauthenticated (public endpoints).
type AuthProvider interface {
	AuthorizationHeader() (string, error)
}

// AuthProviderFunc adapts a function to the AuthProvider interface.
type AuthProviderFunc func() (string, error)

func (f AuthProviderFunc) AuthorizationHeader() (string, error) {
	return f()
}

// Config holds configuration for the REST transport.
type Config struct {
	// BaseURL is the default API base; individual requests may override
	// it with WithBaseURL.
	BaseURL string

	// Timeout bounds every request. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger defaults to the plain logger when nil.
	Logger logging.Logger
}

// DefaultTimeout is the fixed per-request timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// Client is the HTTP transport. All exported methods are safe for
// concurrent use.
type Client struct {
	http    *resty.Client
	limiter *ratelimit.Limiter
	auth    AuthProvider
	logger  logging.Logger
}

// NewClient builds a transport over the given limiter and auth provider.
// Either may be nil: a nil limiter disables the gate, a nil auth
// provider sends unauthenticated requests.
func NewClient(config Config, limiter *ratelimit.Limiter, auth AuthProvider) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
			SetTimeout(timeout),
		limiter: limiter,
		auth:    auth,
		logger:  logger,
	}
}

// requestOptions carries per-request overrides.
type requestOptions struct {
	baseURL       string
	skipRateLimit bool
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithBaseURL routes this request to a different base URL, joining the
// path without duplicating slashes.
func WithBaseURL(baseURL string) RequestOption {
	return func(o *requestOptions) { o.baseURL = baseURL }
}

// SkipRateLimit bypasses the limiter gate for this request. Reserved for
// calls that do not consume the venue's REST budget.
func SkipRateLimit() RequestOption {
	return func(o *requestOptions) { o.skipRateLimit = true }
}

// Request issues one HTTP call and classifies the outcome.
//
// The limiter is consulted first: a rejection propagates as
// *interfaces.RateLimitError without any network traffic. Transport
// failures become *interfaces.NetworkError and are counted as failed
// calls. Provider responses are mapped 401 -> AuthError, 429 ->
// RateLimitError, other >= 400 -> APIError. A 2xx body is decoded into
// the standard envelope and its own status field is inspected: HTTP 200
// is never treated as success without the envelope saying "ok".
func (c *Client) Request(ctx context.Context, method, path string, params map[string]string, body interface{}, opts ...RequestOption) (*Envelope, error) {
	var options requestOptions
	for _, opt := range opts {
		opt(&options)
	}

	if c.limiter != nil && !options.skipRateLimit {
		if err := c.limiter.Acquire(); err != nil {
			return nil, err
		}
	}

	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	if c.auth != nil {
		ident, err := c.auth.AuthorizationHeader()
		if err != nil {
			return nil, err
		}
		if ident != "" {
			req.SetHeader("Authorization", ident)
		}
	}

	url := path
	if options.baseURL != "" {
		url = joinURL(options.baseURL, path)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		c.recordFailure(options)
		c.logger.Warn("request transport failure",
			logging.String("method", method),
			logging.String("path", path),
			logging.Error(err))
		return nil, &interfaces.NetworkError{Op: fmt.Sprintf("%s %s", method, path), Err: err}
	}

	return c.classify(resp, method, path, options)
}

// Get issues a GET request against the default base URL.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, opts ...RequestOption) (*Envelope, error) {
	return c.Request(ctx, resty.MethodGet, path, params, nil, opts...)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Envelope, error) {
	return c.Request(ctx, resty.MethodPost, path, nil, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, params map[string]string, opts ...RequestOption) (*Envelope, error) {
	return c.Request(ctx, resty.MethodDelete, path, params, nil, opts...)
}

func (c *Client) classify(resp *resty.Response, method, path string, options requestOptions) (*Envelope, error) {
	bodyBytes := resp.Body()
	status := resp.StatusCode()

	var env Envelope
	parseErr := json.Unmarshal(bodyBytes, &env)

	switch {
	case status == 401:
		c.recordFailure(options)
		msg := env.Message
		if msg == "" {
			msg = "unauthorized"
		}
		return nil, &interfaces.AuthError{Code: env.Code, Message: msg}

	case status == 429:
		c.recordFailure(options)
		return nil, &interfaces.RateLimitError{
			Tier:       interfaces.TierSecond,
			RetryAfter: retryAfter(resp),
		}

	case status >= 400:
		c.recordFailure(options)
		return nil, &interfaces.APIError{
			Status:  status,
			Code:    env.Code,
			Message: env.Message,
			Body:    string(bodyBytes),
		}
	}

	// 2xx from here on. A body that is not the standard envelope is a
	// protocol violation, not a success.
	if parseErr != nil {
		c.recordFailure(options)
		return nil, &interfaces.APIError{
			Status: status,
			Body:   string(bodyBytes),
		}
	}

	if env.S != statusOK {
		c.recordFailure(options)
		if looksLikeAuthFailure(env) {
			return nil, &interfaces.AuthError{Code: env.Code, Message: env.Message}
		}
		return nil, &interfaces.APIError{
			Status:  status,
			Code:    env.Code,
			Message: env.Message,
			Body:    string(bodyBytes),
		}
	}

	c.recordSuccess(options)
	env.Raw = json.RawMessage(bodyBytes)
	return &env, nil
}

func (c *Client) recordSuccess(options requestOptions) {
	if c.limiter != nil && !options.skipRateLimit {
		c.limiter.Record()
	}
}

func (c *Client) recordFailure(options requestOptions) {
	if c.limiter != nil && !options.skipRateLimit {
		c.limiter.RecordFailure()
	}
}

// joinURL joins a base and path without duplicating slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// retryAfter parses the Retry-After header, accepting both the
// delta-seconds and the HTTP-date form. Defaults to one second.
func retryAfter(resp *resty.Response) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	return time.Second
}

// looksLikeAuthFailure decides whether an envelope-level error is really
// an auth problem reported over HTTP 200.
func looksLikeAuthFailure(env Envelope) bool {
	msg := strings.ToLower(env.Message)
	return strings.Contains(msg, "token") ||
		strings.Contains(msg, "auth") ||
		strings.Contains(msg, "unauthorized")
}
