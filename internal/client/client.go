// Package client provides the signed, rate-limited HTTP client shared by every
// resource client. One Client is built at startup and used read-only by all
// workers; its connection pool is the only synchronization point.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeops/edgectl/internal/edgegrid"
	"github.com/edgeops/edgectl/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Media types.
const (
	MediaTypeJSON           = "application/json"
	MediaTypeCPSDeployments = "application/vnd.akamai.cps.deployments.v7+json"
	MediaTypeCPSEnrollments = "application/vnd.akamai.cps.enrollments.v11+json"
)

// RateLimitMarker appears in the body of a WAF deny caused by request bursts.
const RateLimitMarker = "WAF deny rule IPBLOCK-BURST"

// ErrRateLimited is returned when the remote edge has blocked the caller.
// The only supported reaction is a cool-down followed by process exit.
var ErrRateLimited = errors.New("rate limited by remote WAF")

// APIError is a non-2xx response on a call whose failure is terminal.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, strings.TrimSpace(body))
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	AccountSwitchKey string
	RateLimit        float64 // requests per second; 0 means unlimited
	Timeout          time.Duration
	CacheTTL         time.Duration
	Transport        http.RoundTripper
	Logger           zerolog.Logger
}

// Client issues requests against one API host.
type Client struct {
	http             *http.Client
	baseURL          string
	accountSwitchKey string
	limiter          *rate.Limiter
	cache            *ResponseCache
	inflight         singleflight.Group
	logger           zerolog.Logger
}

// New creates a client. Transport is used as-is; use NewSigned for signed calls.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Client{
		http:             &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		baseURL:          strings.TrimSuffix(opts.BaseURL, "/"),
		accountSwitchKey: opts.AccountSwitchKey,
		limiter:          rate.NewLimiter(limit, 1),
		cache:            NewResponseCache(opts.CacheTTL),
		logger:           opts.Logger,
	}
}

// NewSigned creates a client whose requests are signed with creds.
func NewSigned(creds edgegrid.Credentials, opts Options) *Client {
	opts.Transport = edgegrid.NewTransport(creds, opts.Transport)
	if opts.BaseURL == "" {
		opts.BaseURL = creds.BaseURL()
	}
	return New(opts)
}

// Request describes one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Response is the raw outcome of a call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// JSON decodes the body into target.
func (r *Response) JSON(target any) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Do executes req. Non-2xx statuses are returned as a Response, not an error;
// errors are transport failures, context cancellation and ErrRateLimited.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	query := url.Values{}
	for k, vs := range req.Query {
		query[k] = append([]string(nil), vs...)
	}
	if c.accountSwitchKey != "" {
		query.Set("accountSwitchKey", c.accountSwitchKey)
	}
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", MediaTypeJSON)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", MediaTypeJSON)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logCall(req, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 && bytes.Contains(respBody, []byte(RateLimitMarker)) {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrRateLimited)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (c *Client) logCall(req Request, status int, elapsed time.Duration) {
	ev := c.logger.Debug()
	if !ev.Enabled() {
		return
	}
	headers := zerolog.Dict()
	for k, v := range req.Headers {
		if logging.IsSecretField(k) {
			v = logging.RedactValue(v)
		}
		headers.Str(k, v)
	}
	ev.Str("method", req.Method).
		Str("path", req.Path).
		Int("status", status).
		Dur("elapsed", elapsed).
		Dict("headers", headers).
		Msg("api call")
}

// Get performs a GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Headers: headers})
}

// GetCached performs a GET and memoizes 2xx responses for the process lifetime
// (bounded by the cache TTL). Concurrent misses on one key share a single call.
func (c *Client) GetCached(ctx context.Context, path string, query url.Values, headers map[string]string) (*Response, error) {
	key := path + "?" + query.Encode()
	if v, ok := c.cache.Get(key); ok {
		return v.(*Response), nil
	}
	v, err, _ := c.inflight.Do(key, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		resp, err := c.Get(ctx, path, query, headers)
		if err != nil {
			return nil, err
		}
		if resp.OK() {
			c.cache.Put(key, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// PostJSON marshals body and performs a POST.
func (c *Client) PostJSON(ctx context.Context, path string, query url.Values, body any, headers map[string]string) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, query, body, headers)
}

// PutJSON marshals body and performs a PUT.
func (c *Client) PutJSON(ctx context.Context, path string, query url.Values, body any, headers map[string]string) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPut, path, query, body, headers)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) (*Response, error) {
	var data []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		data = b
	case json.RawMessage:
		data = b
	default:
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}
	return c.Do(ctx, Request{Method: method, Path: path, Query: query, Headers: headers, Body: data})
}

// Expect converts a non-2xx response into an *APIError tagged with op.
func Expect(op string, resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &APIError{Op: op, Status: resp.Status, Body: string(resp.Body)}
}
