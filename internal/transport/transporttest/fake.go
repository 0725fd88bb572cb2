// Package transporttest provides a scripted Transport for tests.
package transporttest

import (
	"context"
	"net/http"
	"sync"

	"github.com/imedwei/offsite-vault/internal/transport"
)

// Handler produces the reply for one request.
type Handler func(req *transport.Request) (*transport.Response, error)

// Fake is a Transport that records every request and answers with a Handler.
type Fake struct {
	mu      sync.Mutex
	handler Handler
	calls   []transport.Request
}

// New creates a Fake answering with h.
func New(h Handler) *Fake {
	return &Fake{handler: h}
}

// Send implements transport.Transport.
func (f *Fake) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	recorded := *req
	recorded.Header = make(map[string]string, len(req.Header))
	for k, v := range req.Header {
		recorded.Header[k] = v
	}
	f.calls = append(f.calls, recorded)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &transport.Error{Method: req.Method, URL: req.URL, Err: err}
	}
	return f.handler(req)
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of requests sent.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reply builds a response with the given status and body.
func Reply(status int, body string) *transport.Response {
	return &transport.Response{StatusCode: status, Header: http.Header{}, Body: []byte(body)}
}

// Always answers every request with the same response.
func Always(status int, body string) Handler {
	return func(*transport.Request) (*transport.Response, error) {
		return Reply(status, body), nil
	}
}

// Fail answers every request with a transport error.
func Fail(err error) Handler {
	return func(req *transport.Request) (*transport.Response, error) {
		return nil, &transport.Error{Method: req.Method, URL: req.URL, Err: err}
	}
}

// Sequence answers requests with the given responses in order and repeats
// the last one once exhausted.
func Sequence(responses ...*transport.Response) Handler {
	var mu sync.Mutex
	i := 0
	return func(*transport.Request) (*transport.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		resp := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return resp, nil
	}
}
