// Package katcpmock implements an in-memory KATCP server backed by a devicemem.Store.
//
// It speaks enough of the tcpborphserver dialect to exercise the katcp transport:
// ?watchdog, ?read, ?write, ?listdev, ?fpgastatus and ?progremote.
package katcpmock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-casperfpga/internal/devicemem"
	"github.com/arloliu/go-casperfpga/katcp"
)

const uploadAcceptTimeout = 5 * time.Second

// Server is a reference KATCP server listening on a loopback port.
type Server struct {
	store    *devicemem.Store
	listener net.Listener

	protocol   string
	silent     bool
	logInforms bool
	replyDelay atomic.Int64 // time.Duration

	requests *xsync.MapOf[string, *atomic.Int64]
	total    atomic.Int64

	wg     sync.WaitGroup
	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	closed atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithProtocol sets the announced katcp-protocol version. Defaults to "5.0-MI".
func WithProtocol(version string) Option {
	return func(s *Server) { s.protocol = version }
}

// WithSilent makes the server accept connections but never complete the handshake.
func WithSilent() Option {
	return func(s *Server) { s.silent = true }
}

// WithLogInforms makes the server emit an unsolicited #log inform before every reply.
func WithLogInforms() Option {
	return func(s *Server) { s.logInforms = true }
}

// New starts a server on 127.0.0.1 with an ephemeral port.
func New(store *devicemem.Store, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:    store,
		listener: ln,
		protocol: "5.0-MI",
		requests: xsync.NewMapOf[string, *atomic.Int64](),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Host returns the listening host.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the listening port.
func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

// Store returns the backing device store.
func (s *Server) Store() *devicemem.Store { return s.store }

// SetReplyDelay delays every reply by d.
func (s *Server) SetReplyDelay(d time.Duration) { s.replyDelay.Store(int64(d)) }

// RequestCount returns how many ?name requests were received.
func (s *Server) RequestCount(name string) int64 {
	if c, ok := s.requests.Load(name); ok {
		return c.Load()
	}

	return 0
}

// TotalRequests returns how many requests of any kind were received.
func (s *Server) TotalRequests() int64 { return s.total.Load() }

// Close stops the server and drops all connections.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.listener.Close()

	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		if s.closed.Load() {
			_ = conn.Close()
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	if s.silent {
		_, _ = io.Copy(io.Discard, conn)
		return
	}

	w := bufio.NewWriter(conn)
	s.send(w, katcp.NewInform("version-connect", 0, "katcp-protocol", s.protocol))
	s.send(w, katcp.NewInform("version-connect", 0, "katcp-library", "katcpmock-0.1"))
	s.send(w, katcp.NewInform("version-connect", 0, "katcp-device", "roach2-mock"))

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}

		req, err := katcp.ParseMessage(line)
		if err != nil || req.Type != katcp.RequestType {
			continue
		}

		s.countRequest(req.Name)

		if d := time.Duration(s.replyDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		if s.logInforms {
			s.send(w, katcp.NewInform("log", 0, "info", time.Now().Unix(), "katcpmock", "handling "+req.Name))
		}

		s.handle(w, req)
	}
}

func (s *Server) countRequest(name string) {
	s.total.Add(1)
	c, _ := s.requests.LoadOrCompute(name, func() *atomic.Int64 { return &atomic.Int64{} })
	c.Add(1)
}

func (s *Server) send(w *bufio.Writer, msg *katcp.Message) {
	_, _ = w.Write(msg.Bytes())
	_ = w.Flush()
}

func (s *Server) handle(w *bufio.Writer, req *katcp.Message) {
	reply := func(args ...any) {
		s.send(w, katcp.NewReply(req.Name, req.MID, args...))
	}
	fail := func(err error) {
		reply(katcp.ReplyFail, err.Error())
	}

	switch req.Name {
	case "watchdog":
		reply(katcp.ReplyOK)

	case "read":
		offset, err1 := req.IntArg(1)
		size, err2 := req.IntArg(2)
		if err := errors.Join(err1, err2); err != nil {
			reply(katcp.ReplyInvalid, "bad arguments")
			return
		}
		data, err := s.store.Read(req.Arg(0), offset, size)
		if err != nil {
			fail(err)
			return
		}
		reply(katcp.ReplyOK, data)

	case "write":
		offset, err := req.IntArg(1)
		if err != nil || len(req.Args) < 3 {
			reply(katcp.ReplyInvalid, "bad arguments")
			return
		}
		if err := s.store.Write(req.Arg(0), offset, req.Args[2]); err != nil {
			fail(err)
			return
		}
		reply(katcp.ReplyOK)

	case "listdev":
		names := s.store.Names()
		for _, name := range names {
			s.send(w, katcp.NewInform("listdev", req.MID, name))
		}
		reply(katcp.ReplyOK, len(names))

	case "fpgastatus":
		if !s.store.Programmed() {
			reply(katcp.ReplyFail, "fpga not programmed")
			return
		}
		reply(katcp.ReplyOK)

	case "progremote":
		port, err := req.IntArg(0)
		if err != nil {
			reply(katcp.ReplyInvalid, "bad port")
			return
		}
		image, err := s.receiveImage(port)
		if err != nil {
			fail(err)
			return
		}
		s.store.Program(image)
		s.send(w, katcp.NewInform("fpga", 0, "ready"))
		reply(katcp.ReplyOK)

	default:
		reply(katcp.ReplyInvalid, "unknown request "+req.Name)
	}
}

func (s *Server) receiveImage(port int) ([]byte, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen upload port: %w", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), uploadAcceptTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept upload: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(uploadAcceptTimeout))

	return io.ReadAll(conn)
}
