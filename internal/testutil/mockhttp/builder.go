package mockhttp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Handler answers a request and reports whether it did.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// ServerBuilder builds scripted HTTP servers.
type ServerBuilder struct {
	handlers    []Handler
	defaultCode int
	capture     *Capture
}

// New creates a ServerBuilder whose unmatched requests get 404.
func New() *ServerBuilder {
	return &ServerBuilder{defaultCode: http.StatusNotFound}
}

// DefaultStatus sets the status returned when no handler matches.
func (b *ServerBuilder) DefaultStatus(code int) *ServerBuilder {
	b.defaultCode = code
	return b
}

// Handler adds a custom handler.
func (b *ServerBuilder) Handler(h Handler) *ServerBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// Envelope answers path with 200 and {"response": v}.
func (b *ServerBuilder) Envelope(path string, v any) *ServerBuilder {
	return b.EnvelopeWithStatus(path, http.StatusOK, v)
}

// EnvelopeWithStatus answers path with code and {"response": v}.
func (b *ServerBuilder) EnvelopeWithStatus(path string, code int, v any) *ServerBuilder {
	return b.JSONWithStatus(path, code, map[string]any{"response": v})
}

// JSONWithStatus answers path with code and v encoded as JSON.
func (b *ServerBuilder) JSONWithStatus(path string, code int, v any) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
		return true
	})
}

// Bytes answers path with 200 and data as application/octet-stream.
func (b *ServerBuilder) Bytes(path string, data []byte) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return true
	})
}

// Status answers path with an empty body and code.
func (b *ServerBuilder) Status(path string, code int) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		w.WriteHeader(code)
		return true
	})
}

// StatusWithBody answers path with code and a literal body.
// The body is labelled application/json when it looks like JSON, text/plain otherwise.
func (b *ServerBuilder) StatusWithBody(path string, code int, body string) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		if json.Valid([]byte(body)) {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/plain")
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
		return true
	})
}

// Delay holds requests to path for d, or until the client goes away, then
// lets later handlers answer.
func (b *ServerBuilder) Delay(path string, d time.Duration) *ServerBuilder {
	return b.Handler(func(_ http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		select {
		case <-time.After(d):
		case <-r.Context().Done():
		}
		return false
	})
}

// Route answers requests matching both method and path with h.
func (b *ServerBuilder) Route(method string, path string, h http.HandlerFunc) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method != method || !matchPath(r.URL.Path, path) {
			return false
		}
		h(w, r)
		return true
	})
}

// Capture records every request reaching the server. Register it before the
// handlers whose requests should be seen.
func (b *ServerBuilder) Capture() *Capture {
	if b.capture == nil {
		b.capture = &Capture{}
		b.Handler(func(_ http.ResponseWriter, r *http.Request) bool {
			b.capture.record(r)
			return false
		})
	}

	return b.capture
}

// Build starts the server.
func (b *ServerBuilder) Build() *httptest.Server {
	handlers := append([]Handler(nil), b.handlers...)
	defaultCode := b.defaultCode

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range handlers {
			if h(w, r) {
				return
			}
		}
		w.WriteHeader(defaultCode)
	}))
}

func matchPath(requestPath string, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(requestPath, prefix)
	}

	return requestPath == pattern
}

// Capture stores requests for test assertions.
type Capture struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

// CapturedRequest holds the parts of a request tests usually assert on.
type CapturedRequest struct {
	Method  string
	Path    string
	Query   map[string][]string
	Headers http.Header
	Body    []byte
}

func (c *Capture) record(r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, CapturedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
		Body:    body,
	})
}

// Count returns the number of captured requests.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.requests)
}

// Last returns the most recent request, or nil if none was captured.
func (c *Capture) Last() *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.requests) == 0 {
		return nil
	}
	req := c.requests[len(c.requests)-1]

	return &req
}

// All returns a copy of every captured request.
func (c *Capture) All() []CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CapturedRequest, len(c.requests))
	copy(out, c.requests)

	return out
}
