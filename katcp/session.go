package katcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-casperfpga/logger"
)

const (
	// maxLineSize bounds a single KATCP line. Reads of large devices travel as one line.
	maxLineSize = 64 << 20

	informVersionConnect = "version-connect"
	protocolComponent    = "katcp-protocol"
)

// ProtocolInfo describes the KATCP protocol version announced by the remote side.
type ProtocolInfo struct {
	Major int
	Minor int
	// Flags holds the capability letters following the version, e.g. "MI".
	Flags string
}

// HasFlag reports whether the remote announced capability flag f.
func (p ProtocolInfo) HasFlag(f byte) bool {
	return strings.IndexByte(p.Flags, f) >= 0
}

func (p ProtocolInfo) String() string {
	v := strconv.Itoa(p.Major) + "." + strconv.Itoa(p.Minor)
	if p.Flags != "" {
		v += "-" + p.Flags
	}

	return v
}

func parseProtocolInfo(s string) (ProtocolInfo, error) {
	var info ProtocolInfo

	version, flags, _ := strings.Cut(s, "-")
	majorStr, minorStr, _ := strings.Cut(version, ".")

	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return info, fmt.Errorf("%w: protocol version %q", ErrInvalidMessage, s)
	}
	info.Major = major

	if minorStr != "" {
		minor, err := strconv.Atoi(minorStr)
		if err != nil {
			return info, fmt.Errorf("%w: protocol version %q", ErrInvalidMessage, s)
		}
		info.Minor = minor
	}
	info.Flags = flags

	return info, nil
}

// Reply is the outcome of a request: the reply message plus the informs that preceded it.
type Reply struct {
	*Message
	Informs []*Message
}

// Session is an open KATCP connection produced by a successful handshake.
//
// Requests on a Session are serialized. A Session that failed or was closed is
// never reconnected; every later request returns ErrSessionClosed.
type Session struct {
	addr    string
	timeout time.Duration
	logger  logger.Logger

	conn   net.Conn
	reader *bufio.Reader

	mu        sync.Mutex // serializes requests
	state     AtomicSessionState
	closeOnce sync.Once
	connOnce  sync.Once
	lastMID   int
	pending   []byte // partial line left by a read that timed out

	protocol       ProtocolInfo
	connectInforms []*Message

	metrics SessionMetrics
}

// Connect establishes a KATCP session with host:port.
//
// The TCP dial and the wait for the "#version-connect katcp-protocol" inform share
// a single deadline of timeout (or the context deadline, if earlier). When it
// elapses the attempt is abandoned, the socket is closed and a *TimeoutError is
// returned. Connect never returns a partially-open session.
func Connect(ctx context.Context, host string, port int, timeout time.Duration) (*Session, error) {
	return connect(ctx, host, port, timeout, logger.NewNop())
}

func connect(ctx context.Context, host string, port int, timeout time.Duration, l logger.Logger) (*Session, error) {
	s := &Session{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
		logger:  l,
	}
	if !s.state.ToConnecting() {
		return nil, ErrInvalidTransition
	}

	if err := s.handshake(ctx); err != nil {
		s.state.ToFailed()
		if s.conn != nil {
			_ = s.conn.Close()
		}

		return nil, err
	}

	if !s.state.ToConnected() {
		_ = s.conn.Close()
		return nil, ErrInvalidTransition
	}

	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	timeoutErr := &TimeoutError{Op: "connect", Addr: s.addr, After: time.Until(deadline).Round(time.Millisecond)}

	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(dialCtx, "tcp", s.addr)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return fmt.Errorf("katcp: connect %s: %w", s.addr, ctxErr)
		}
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Debug("katcp connect timed out while dialing", "addr", s.addr)
			return timeoutErr
		}

		return fmt.Errorf("katcp: connect %s: %w", s.addr, err)
	}
	s.conn = conn
	s.reader = bufio.NewReaderSize(conn, 64*1024)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })

	err = s.awaitProtocolInfo(deadline)

	if !stop() && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutErr
		}

		return fmt.Errorf("katcp: connect %s: %w", s.addr, ctx.Err())
	}
	if err != nil {
		if isTimeout(err) {
			s.logger.Debug("katcp connect timed out waiting for protocol info", "addr", s.addr)
			return timeoutErr
		}

		return err
	}

	return conn.SetDeadline(time.Time{})
}

func (s *Session) awaitProtocolInfo(deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("katcp: set handshake deadline: %w", err)
	}

	for {
		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, ErrInvalidMessage) {
				s.logger.Debug("katcp ignored malformed line during handshake", "addr", s.addr, "error", err)
				continue
			}

			return fmt.Errorf("katcp: handshake with %s: %w", s.addr, err)
		}

		if msg.Type != InformType || msg.Name != informVersionConnect {
			s.logger.Debug("katcp ignored message during handshake", "addr", s.addr, "msg", msg.Name)
			continue
		}

		s.connectInforms = append(s.connectInforms, msg)
		if msg.Arg(0) != protocolComponent {
			continue
		}

		info, err := parseProtocolInfo(msg.Arg(1))
		if err != nil {
			return err
		}
		if info.Major < 5 {
			return fmt.Errorf("%w: %s", ErrUnsupportedProtocol, info)
		}
		s.protocol = info

		return nil
	}
}

// Addr returns the remote address of the session.
func (s *Session) Addr() string { return s.addr }

// Protocol returns the protocol version announced by the remote side.
func (s *Session) Protocol() ProtocolInfo { return s.protocol }

// ConnectInforms returns the #version-connect informs received during the handshake.
func (s *Session) ConnectInforms() []*Message { return s.connectInforms }

// State returns the current session state.
func (s *Session) State() SessionState { return s.state.Get() }

// Metrics returns the session's counters.
func (s *Session) Metrics() *SessionMetrics { return &s.metrics }

// Close closes the session. Close is idempotent, and closing a failed
// session returns nil.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.ToClosed()
		err = s.closeConn()
		s.logger.Debug("katcp session closed", "addr", s.addr)
	})

	return err
}

// closeConn closes the socket once. Later calls return nil.
func (s *Session) closeConn() error {
	var err error
	s.connOnce.Do(func() { err = s.conn.Close() })

	return err
}

// Request sends ?name with args and waits for the matching reply.
//
// Informs belonging to the request are collected into the Reply. A reply whose
// status is not "ok" is returned together with a *ReplyError. The wait is bounded
// by the context deadline or, when ctx has none, the session timeout; a timeout
// invalidates the session.
func (s *Session) Request(ctx context.Context, name string, args ...any) (*Reply, error) {
	return s.do(ctx, call{name: name, args: args})
}

// call describes one request/reply exchange.
type call struct {
	name string
	args []any
	// during runs, when non-nil, after the request is sent and before the reply is awaited.
	during func(context.Context) error
	// keepOnTimeout leaves the session usable when the reply does not arrive in
	// time. Only requests whose late reply can never be taken for the reply of a
	// different request may set it.
	keepOnTimeout bool
}

// do sends the request, runs c.during while the remote is processing it, then
// waits for the reply.
func (s *Session) do(ctx context.Context, c call) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.IsConnected() {
		return nil, ErrSessionClosed
	}

	mid := 0
	if s.protocol.HasFlag('M') {
		s.lastMID++
		mid = s.lastMID
	}
	name := c.name
	req := NewRequest(name, mid, c.args...)

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	wait := time.Until(deadline).Round(time.Millisecond)

	// the deadline poke must not outlive the request, or it would hit the next one
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	s.metrics.incRequestCount()
	s.logger.Debug("katcp request", "addr", s.addr, "name", name, "mid", mid, "args", len(c.args))

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return nil, s.fail(ctx, name, err)
	}
	if _, err := s.conn.Write(req.Bytes()); err != nil {
		return nil, s.fail(ctx, name, err)
	}

	if c.during != nil {
		if err := c.during(ctx); err != nil {
			s.logger.Warn("katcp side transfer failed", "addr", s.addr, "name", name, "error", err)
			return nil, err
		}
	}

	reply, err := s.awaitReply(ctx, req, deadline)
	if err != nil && c.keepOnTimeout && readTimedOut(ctx, err) {
		s.metrics.incTimeoutCount()
		s.logger.Debug("katcp reply timed out, session kept", "addr", s.addr, "name", name, "mid", mid)

		return nil, &TimeoutError{Op: "?" + name, Addr: s.addr, After: wait}
	}
	var replyErr *ReplyError
	if err != nil && !errors.As(err, &replyErr) {
		return nil, s.fail(ctx, name, err)
	}

	return reply, err
}

// readTimedOut reports whether the reply wait ended by deadline rather than by
// cancellation or a broken connection.
func readTimedOut(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return false
	}

	return isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (s *Session) awaitReply(ctx context.Context, req *Message, deadline time.Time) (*Reply, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	reply := &Reply{}
	for {
		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, ErrInvalidMessage) {
				s.logger.Debug("katcp ignored malformed line", "addr", s.addr, "error", err)
				continue
			}

			return nil, err
		}

		if msg.Name != req.Name || (req.MID > 0 && msg.MID != req.MID) {
			if msg.Type == InformType {
				s.metrics.incInformCount()
			}
			s.logger.Debug("katcp skipped unrelated message", "addr", s.addr, "type", msg.Type, "name", msg.Name, "mid", msg.MID)

			continue
		}

		switch msg.Type {
		case InformType:
			s.metrics.incInformCount()
			reply.Informs = append(reply.Informs, msg)

		case ReplyType:
			reply.Message = msg
			if !msg.IsOK() {
				s.metrics.incReplyErrCount()
				return reply, newReplyError(msg)
			}

			return reply, nil

		default:
			s.logger.Debug("katcp ignored request from remote", "addr", s.addr, "name", msg.Name)
		}
	}
}

// fail invalidates the session after an I/O failure and translates the error.
func (s *Session) fail(ctx context.Context, name string, err error) error {
	if s.state.ToFailed() {
		_ = s.closeConn()
	}

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("katcp: ?%s: %w", name, ctxErr)
	}
	if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.metrics.incTimeoutCount()
		s.logger.Warn("katcp request timed out, session invalidated", "addr", s.addr, "name", name)

		return &TimeoutError{Op: "?" + name, Addr: s.addr, After: s.timeout}
	}

	s.logger.Warn("katcp session failed", "addr", s.addr, "name", name, "error", err)

	return fmt.Errorf("katcp: ?%s: %w", name, err)
}

func (s *Session) readMessage() (*Message, error) {
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}

		msg, err := ParseMessage(line)
		if errors.Is(err, ErrEmptyMessage) {
			continue
		}

		return msg, err
	}
}

func (s *Session) readLine() ([]byte, error) {
	line := s.pending
	s.pending = nil
	for {
		chunk, err := s.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrInvalidMessage, maxLineSize)
		}

		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			if isTimeout(err) {
				s.pending = line
			}
			return nil, err
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
