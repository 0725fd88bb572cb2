// Package transport sends signed HTTP requests to remote object stores.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/imedwei/offsite-vault/internal/utils"
)

// Request is a single HTTP exchange. Header names keep the casing the caller
// chose; they are sent exactly as given.
type Request struct {
	Method  string
	URL     string
	Header  map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response holds the status, headers and fully read body of a reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends a request and returns the response or a *Error.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Error reports a network-level failure (DNS, connection, timeout,
// cancellation). HTTP status codes are never reported as *Error.
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *Error.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Config holds HTTP transport configuration.
type Config struct {
	Timeout        time.Duration
	RequestsPerSec float64 // 0 disables throttling
	Burst          int
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        60 * time.Second,
		RequestsPerSec: 0,
		Burst:          1,
	}
}

// HTTPTransport implements Transport over net/http. Requests are traced with
// otelhttp and optionally throttled by a token bucket.
type HTTPTransport struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	buffers *utils.BufferPool
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg Config) *HTTPTransport {
	base := http.DefaultTransport.(*http.Transport).Clone()

	t := &HTTPTransport{
		client:  &http.Client{Transport: otelhttp.NewTransport(base)},
		timeout: cfg.Timeout,
		buffers: utils.DefaultBufferPool,
	}

	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	return t
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = t.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &Error{Method: req.Method, URL: req.URL, Err: err}
		}
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: err}
	}

	for name, value := range req.Header {
		if strings.EqualFold(name, "Host") {
			httpReq.Host = value
			continue
		}
		// Direct map assignment keeps the caller's casing on the wire.
		httpReq.Header[name] = []string{value}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := t.buffers.Drain(resp.Body, resp.ContentLength)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
