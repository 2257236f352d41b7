// Package gatewaymock implements an in-memory REST gateway for a PCIe-attached
// board, backed by a devicemem.Store.
package gatewaymock

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-casperfpga/internal/devicemem"
)

// DefaultVersion is the API version reported by /version unless overridden.
const DefaultVersion = "1.0.0"

// RequestRecord describes one request received by the server.
type RequestRecord struct {
	// ID is the client's X-Request-ID, or a generated uuid when the client sent none.
	ID          string
	InstanceID  string
	Method      string
	Path        string
	Query       string
	ContentType string
	Received    time.Time
}

// Server is a reference gateway serving a single board.
type Server struct {
	host  string
	store *devicemem.Store
	srv   *httptest.Server

	version   string
	connected atomic.Bool

	requests *xsync.MapOf[string, *atomic.Int64]
	total    atomic.Int64

	logMu sync.Mutex
	log   []RequestRecord
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by /version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithDisconnected makes /connected report false.
func WithDisconnected() Option {
	return func(s *Server) { s.connected.Store(false) }
}

// New starts a gateway for board host on a loopback port.
func New(host string, store *devicemem.Store, opts ...Option) *Server {
	s := &Server{
		host:     host,
		store:    store,
		version:  DefaultVersion,
		requests: xsync.NewMapOf[string, *atomic.Int64](),
	}
	s.connected.Store(true)
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /{host}/connected", s.board(s.handleConnected))
	mux.HandleFunc("GET /{host}/programmed", s.board(s.handleProgrammed))
	mux.HandleFunc("GET /{host}/device", s.board(s.handleListDev))
	mux.HandleFunc("GET /{host}/device/{name}", s.board(s.handleRead))
	mux.HandleFunc("PUT /{host}/device/{name}", s.board(s.handleWrite))
	mux.HandleFunc("PUT /{host}/fpgfile", s.board(s.handleProgram))

	s.srv = httptest.NewServer(s.record(mux))

	return s
}

// URL returns the gateway base URI.
func (s *Server) URL() string { return s.srv.URL }

// Client returns an HTTP client configured for the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// Store returns the backing device store.
func (s *Server) Store() *devicemem.Store { return s.store }

// SetConnected changes the board liveness reported by /connected.
func (s *Server) SetConnected(ok bool) { s.connected.Store(ok) }

// RequestCount returns the number of requests received for a route pattern,
// e.g. "GET /{host}/device/{name}".
func (s *Server) RequestCount(pattern string) int64 {
	if c, ok := s.requests.Load(pattern); ok {
		return c.Load()
	}

	return 0
}

// TotalRequests returns the number of requests of any kind.
func (s *Server) TotalRequests() int64 { return s.total.Load() }

// Requests returns a copy of the request log.
func (s *Server) Requests() []RequestRecord {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	out := make([]RequestRecord, len(s.log))
	copy(out, s.log)

	return out
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

func (s *Server) record(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		s.logMu.Lock()
		s.log = append(s.log, RequestRecord{
			ID:          id,
			InstanceID:  r.Header.Get("X-Instance-ID"),
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Received:    time.Now(),
		})
		s.logMu.Unlock()

		_, pattern := next.Handler(r)
		s.total.Add(1)
		c, _ := s.requests.LoadOrCompute(pattern, func() *atomic.Int64 { return &atomic.Int64{} })
		c.Add(1)

		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// board rejects requests addressed to another board.
func (s *Server) board(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("host") != s.host {
			writeJSON(w, http.StatusNotFound, "unknown host "+r.PathValue("host"))
			return
		}
		h(w, r)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := strconv.ParseFloat(q.Get("timeout"), 64); err != nil {
		writeJSON(w, http.StatusBadRequest, "bad timeout")
		return
	}
	if _, err := strconv.Atoi(q.Get("retries")); err != nil {
		writeJSON(w, http.StatusBadRequest, "bad retries")
		return
	}

	writeJSON(w, http.StatusOK, s.connected.Load())
}

func (s *Server) handleProgrammed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Programmed())
}

func (s *Server) handleListDev(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Names())
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, err1 := strconv.Atoi(q.Get("size"))
	offset, err2 := strconv.Atoi(q.Get("offset"))
	if err := errors.Join(err1, err2); err != nil {
		writeJSON(w, http.StatusBadRequest, "size and offset must be integers")
		return
	}

	data, err := s.store.Read(r.PathValue("name"), offset, size)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	data, err := readBody(r, "")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Write(r.PathValue("name"), offset, data); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		writeJSON(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	image, err := readBody(r, "fpga")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.Program(image)
	writeJSON(w, http.StatusOK, true)
}

// readBody returns the raw body, or the content of the multipart file field
// named field (any file field when field is empty).
func readBody(r *http.Request, field string) ([]byte, error) {
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("missing file field " + field)
			}
			return nil, err
		}
		if part.FileName() != "" && (field == "" || part.FormName() == field) {
			defer part.Close()
			return io.ReadAll(part)
		}
		_ = part.Close()
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devicemem.ErrNoSuchDevice):
		writeJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, devicemem.ErrOutOfRange):
		writeJSON(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"response": v})
}
