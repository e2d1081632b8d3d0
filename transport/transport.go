package transport

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
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jonwraymond/catalogops/auth"
	"github.com/jonwraymond/catalogops/resilience"
)

// Transport errors.
var (
	// ErrNoBaseURL is returned when no base URL is configured.
	ErrNoBaseURL = errors.New("transport: base url is not configured")

	// ErrInvalidBaseURL is returned for an unparseable or relative base URL.
	ErrInvalidBaseURL = errors.New("transport: invalid base url")
)

// maxErrorBody bounds the response body kept on a StatusError.
const maxErrorBody = 4 << 10

// Request is one HTTP-like call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    any // JSON-encoded when non-nil
	Timeout time.Duration
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

// Transport executes a single request.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation and deadlines.
// - Errors: non-2xx statuses are *resilience.StatusError; failures without a
// status are *resilience.TransportError.
type Transport interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Config configures HTTPTransport.
type Config struct {
	// BaseURL is the server root, e.g. https://abs.example.com.
	BaseURL string

	// Token is the bearer credential. Empty sends no Authorization header.
	Token string

	// Timeout bounds a request when Request.Timeout is zero.
	// Default: 15 seconds
	Timeout time.Duration

	// Client overrides the HTTP client. Its transport is wrapped with otelhttp.
	Client *http.Client

	// UserAgent is sent on every request.
	// Default: "catalogops"
	UserAgent string
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	mu      sync.RWMutex
	baseURL *url.URL

	token     auth.Holder
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// New creates an HTTPTransport. An empty BaseURL is allowed and must be set
// with SetBaseURL before the first request.
func New(config Config) (*HTTPTransport, error) {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "catalogops"
	}

	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "catalogops.http " + r.Method + " " + r.URL.Path
		}),
	)

	t := &HTTPTransport{
		client:    &wrapped,
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
	}
	if config.BaseURL != "" {
		if err := t.SetBaseURL(config.BaseURL); err != nil {
			return nil, err
		}
	}
	if err := t.SetToken(config.Token); err != nil {
		return nil, err
	}
	return t, nil
}

// SetBaseURL replaces the server root.
func (t *HTTPTransport) SetBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}

	t.mu.Lock()
	t.baseURL = u
	t.mu.Unlock()
	return nil
}

// BaseURL returns the configured server root, or "".
func (t *HTTPTransport) BaseURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.baseURL == nil {
		return ""
	}
	return t.baseURL.String()
}

// SetToken replaces the bearer token. Empty clears it.
func (t *HTTPTransport) SetToken(raw string) error {
	return t.token.Set(raw)
}

// Execute performs req and returns the 2xx response.
func (t *HTTPTransport) Execute(ctx context.Context, req Request) (*Response, error) {
	httpReq, cancel, err := t.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	op := httpReq.Method + " " + httpReq.URL.Path

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, resilience.Cancelled(op, ctx.Err())
		}
		return nil, &resilience.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &resilience.TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &resilience.StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, req Request) (*http.Request, context.CancelFunc, error) {
	t.mu.RLock()
	base := t.baseURL
	t.mu.RUnlock()
	if base == nil {
		return nil, nil, ErrNoBaseURL
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u := *base
	u.Path = base.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, &resilience.ValidationError{Field: "body", Message: err.Error()}
		}
		body = bytes.NewReader(data)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		cancel()
		return nil, nil, &resilience.ValidationError{Field: "request", Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)
	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if tok := t.token.Get(); tok != nil {
		httpReq.Header.Set("Authorization", tok.Header())
	}

	return httpReq, cancel, nil
}
