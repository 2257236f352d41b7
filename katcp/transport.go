package katcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/arloliu/go-casperfpga/internal/pool"
	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/transport"
)

// Transport is a transport.Transport backed by a single KATCP session.
type Transport struct {
	cfg     *Config
	session *Session
	logger  logger.Logger
}

// ensure Transport implements transport.Transport interface.
var _ transport.Transport = (*Transport)(nil)

// Dial creates a KATCP transport and connects it.
//
// Dial blocks until the handshake succeeds, the configured timeout elapses
// (*TimeoutError), or the connection fails.
func Dial(ctx context.Context, cfg *Config) (*Transport, error) {
	if cfg == nil {
		return nil, &transport.ConfigError{Field: "config", Reason: "config is nil"}
	}

	l := cfg.logger.With("transport", "katcp", "host", cfg.host, "port", cfg.port)

	session, err := connect(ctx, cfg.host, cfg.port, cfg.timeout, l)
	if err != nil {
		l.Warn("katcp client failed to connect", "timeout", cfg.timeout, "error", err)
		return nil, err
	}

	l.Info("katcp client created and connected", "protocol", session.Protocol().String())

	return &Transport{cfg: cfg, session: session, logger: l}, nil
}

// Host returns the board address.
func (t *Transport) Host() string { return t.cfg.host }

// Kind returns "katcp".
func (t *Transport) Kind() string { return "katcp" }

// Session returns the underlying KATCP session.
func (t *Transport) Session() *Session { return t.session }

// Close closes the underlying session.
func (t *Transport) Close() error {
	return t.session.Close()
}

// IsConnected sends ?watchdog until it succeeds or the attempts are exhausted.
//
// Failed attempts are reported as false, not as an error. Only cancellation of
// ctx itself is returned as an error. An attempt that times out leaves the
// session usable.
func (t *Transport) IsConnected(ctx context.Context, opts ...transport.ProbeOption) (bool, error) {
	probe := transport.NewProbeConfig(t.cfg.timeout, t.cfg.retries, opts...)

	for attempt := 0; attempt <= probe.Retries; attempt++ {
		if t.session.state.IsTerminal() {
			return false, nil
		}

		ok, err := t.watchdog(ctx, probe.Timeout)
		if ok {
			return true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		t.logger.Debug("katcp watchdog failed", "attempt", attempt+1, "error", err)
	}

	return false, nil
}

func (t *Transport) watchdog(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// A late !watchdog can only ever be taken for another watchdog's reply,
	// so a slow answer does not cost the session.
	if _, err := t.session.do(ctx, call{name: "watchdog", keepOnTimeout: true}); err != nil {
		return false, err
	}

	return true, nil
}

// IsProgrammed asks the board whether an image is loaded.
func (t *Transport) IsProgrammed(ctx context.Context) (bool, error) {
	ok, err := t.fpgaStatus(ctx)
	if err != nil {
		return false, err
	}

	return ok, nil
}

// IsRunning asks the board whether a toolflow image is active.
func (t *Transport) IsRunning(ctx context.Context) (transport.RunState, error) {
	ok, err := t.fpgaStatus(ctx)
	switch {
	case err != nil:
		return transport.RunStateUnknown, err
	case ok:
		return transport.RunStateRunning, nil
	default:
		return transport.RunStateNotRunning, nil
	}
}

// fpgaStatus maps a "fail" reply to false and every other failure to an error.
func (t *Transport) fpgaStatus(ctx context.Context) (bool, error) {
	_, err := t.session.Request(ctx, "fpgastatus")
	if err == nil {
		return true, nil
	}

	var replyErr *ReplyError
	if errors.As(err, &replyErr) && replyErr.Code == ReplyFail {
		return false, nil
	}

	return false, err
}

// Read returns size bytes from device starting at offset.
func (t *Transport) Read(ctx context.Context, device string, size int, offset int) ([]byte, error) {
	if err := transport.ValidateRead(device, size, offset); err != nil {
		return nil, err
	}

	reply, err := t.session.Request(ctx, "read", device, offset, size)
	if err != nil {
		t.logger.Warn("katcp read failed", "device", device, "offset", offset, "size", size, "error", err)
		return nil, err
	}

	if len(reply.Args) < 2 {
		return nil, fmt.Errorf("%w: !read carries no data", ErrInvalidMessage)
	}

	data := reply.Args[1]
	if len(data) != size {
		return nil, fmt.Errorf("katcp: read %s: %w: got %d of %d bytes", device, transport.ErrShortRead, len(data), size)
	}

	return data, nil
}

// BlindWrite writes data to device at offset without verification.
// Misaligned requests are rejected before anything is sent.
func (t *Transport) BlindWrite(ctx context.Context, device string, data []byte, offset int) error {
	if err := transport.ValidateWrite(device, data, offset); err != nil {
		return err
	}

	if _, err := t.session.Request(ctx, "write", device, offset, data); err != nil {
		t.logger.Warn("katcp write failed", "device", device, "offset", offset, "size", len(data), "error", err)
		return err
	}

	return nil
}

// ListDev returns the device names reported by #listdev informs, in order.
func (t *Transport) ListDev(ctx context.Context) ([]string, error) {
	reply, err := t.session.Request(ctx, "listdev")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(reply.Informs))
	for _, inform := range reply.Informs {
		if name := inform.Arg(0); name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// UploadToRAMAndProgram asks the board to listen with ?progremote, streams the
// image to it over a side connection and waits for the reply.
func (t *Transport) UploadToRAMAndProgram(ctx context.Context, imagePath string) transport.Result[bool] {
	if err := transport.ValidateImagePath(imagePath); err != nil {
		return transport.Failed[bool](err)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return transport.Failed[bool](fmt.Errorf("katcp: open image: %w", err))
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.uploadTimeout)
	defer cancel()

	uploadAddr := net.JoinHostPort(t.cfg.host, strconv.Itoa(t.cfg.uploadPort))
	t.logger.Info("katcp uploading image", "image", imagePath, "upload_addr", uploadAddr)

	start := time.Now()
	_, err = t.session.do(ctx, call{
		name: "progremote",
		args: []any{t.cfg.uploadPort},
		during: func(ctx context.Context) error {
			return streamImage(ctx, uploadAddr, f)
		},
	})
	if err != nil {
		t.logger.Warn("katcp image upload failed", "image", imagePath, "error", err)
		return transport.Failed[bool](err)
	}

	t.logger.Info("katcp image programmed", "image", imagePath, "elapsed", time.Since(start))

	return transport.OK(true)
}

// streamImage dials addr, retrying while the board opens its listener, and copies r to it.
func streamImage(ctx context.Context, addr string, r io.Reader) error {
	dialer := &net.Dialer{}
	backoff := &pool.Backoff{}

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return copyAndClose(ctx, conn, r)
		}

		if waitErr := backoff.Wait(ctx); waitErr != nil {
			return fmt.Errorf("katcp: dial upload port %s: %w", addr, err)
		}
	}
}

func copyAndClose(ctx context.Context, conn net.Conn, r io.Reader) error {
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(d)
	}

	_, err := io.Copy(conn, r)
	closeErr := conn.Close()
	if err != nil {
		return fmt.Errorf("katcp: stream image: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("katcp: stream image: %w", closeErr)
	}

	return nil
}
