package katcp_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-casperfpga/internal/devicemem"
	"github.com/arloliu/go-casperfpga/internal/katcpmock"
	"github.com/arloliu/go-casperfpga/katcp"
	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/transport"
)

var testLogger logger.Logger

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "error"
	}

	testLogger = logger.New(logger.WithOutput(os.Stderr), logger.WithLevel(logger.ParseLevel(logLevel)))

	os.Exit(m.Run())
}

func newStore() *devicemem.Store {
	return devicemem.New().
		MustAdd("sys_board_id", 4).
		MustAdd("sys_scratchpad", 64).
		MustAdd("adc_snap_bram", 1024)
}

func startServer(t *testing.T, opts ...katcpmock.Option) *katcpmock.Server {
	t.Helper()

	srv, err := katcpmock.New(newStore(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	return srv
}

func dialServer(t *testing.T, srv *katcpmock.Server, opts ...katcp.Option) *katcp.Transport {
	t.Helper()

	opts = append([]katcp.Option{katcp.WithPort(srv.Port()), katcp.WithLogger(testLogger)}, opts...)
	cfg, err := katcp.NewConfig(srv.Host(), opts...)
	require.NoError(t, err)

	tr, err := katcp.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	return tr
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}

func TestTransport_ReadWriteRoundTrip(t *testing.T) {
	srv := startServer(t)
	tr := dialServer(t, srv)
	ctx := context.Background()

	tests := []struct {
		name   string
		device string
		offset int
		data   []byte
	}{
		{"single word", "sys_scratchpad", 0, []byte{0xde, 0xad, 0xbe, 0xef}},
		{"escaped bytes", "sys_scratchpad", 8, []byte{' ', '\n', '\\', 0, '\r', 0x1b, '\t', '@'}},
		{"large block", "adc_snap_bram", 256, bytes.Repeat([]byte{0x00, 0x20, 0x0a, 0x5c}, 128)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			require.NoError(tr.BlindWrite(ctx, tt.device, tt.data, tt.offset))

			got, err := tr.Read(ctx, tt.device, len(tt.data), tt.offset)
			require.NoError(err)
			require.Equal(tt.data, got)
		})
	}
}

func TestTransport_BlindWriteValidation(t *testing.T) {
	srv := startServer(t)
	tr := dialServer(t, srv)
	ctx := context.Background()

	before := srv.TotalRequests()

	tests := []struct {
		name   string
		data   []byte
		offset int
	}{
		{"misaligned length", []byte{1, 2, 3}, 0},
		{"misaligned offset", []byte{1, 2, 3, 4}, 2},
		{"negative offset", []byte{1, 2, 3, 4}, -4},
		{"nil data", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.BlindWrite(ctx, "sys_scratchpad", tt.data, tt.offset)
			require.ErrorIs(t, err, transport.ErrValidation)

			var vErr *transport.ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}

	_, err := tr.Read(ctx, "sys_scratchpad", 0, 0)
	require.ErrorIs(t, err, transport.ErrValidation)
	_, err = tr.Read(ctx, "", 4, 0)
	require.ErrorIs(t, err, transport.ErrValidation)

	require.Equal(t, before, srv.TotalRequests(), "rejected requests must not reach the board")
}

func TestTransport_ReadRemoteFailure(t *testing.T) {
	srv := startServer(t)
	tr := dialServer(t, srv)

	_, err := tr.Read(context.Background(), "no_such_device", 4, 0)
	require.ErrorIs(t, err, transport.ErrRemote)

	var replyErr *katcp.ReplyError
	require.ErrorAs(t, err, &replyErr)
	require.Equal(t, "read", replyErr.Name)
	require.Equal(t, katcp.ReplyFail, replyErr.Code)

	// a remote failure leaves the session usable
	ok, err := tr.IsConnected(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTransport_ListDev(t *testing.T) {
	srv := startServer(t)
	tr := dialServer(t, srv)

	names, err := tr.ListDev(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"sys_board_id", "sys_scratchpad", "adc_snap_bram"}, names)
	require.Equal(t, int64(1), srv.RequestCount("listdev"))
}

func TestTransport_UnsolicitedInformsSkipped(t *testing.T) {
	srv := startServer(t, katcpmock.WithLogInforms())
	tr := dialServer(t, srv)
	ctx := context.Background()

	require.NoError(t, tr.BlindWrite(ctx, "sys_board_id", []byte{0, 0, 0, 7}, 0))
	data, err := tr.Read(ctx, "sys_board_id", 4, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 7}, data)

	names, err := tr.ListDev(ctx)
	require.NoError(t, err)
	require.Len(t, names, 3)
	require.Positive(t, tr.Session().Metrics().InformCount.Load())
}

func TestTransport_IsConnected(t *testing.T) {
	require := require.New(t)

	srv := startServer(t)
	tr := dialServer(t, srv, katcp.WithRetries(0))

	ok, err := tr.IsConnected(context.Background())
	require.NoError(err)
	require.True(ok)
	require.Equal(int64(1), srv.RequestCount("watchdog"))

	require.NoError(tr.Close())
	ok, err = tr.IsConnected(context.Background())
	require.NoError(err)
	require.False(ok)
}

func TestTransport_IsConnectedSlowBoard(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startServer(t)
	tr := dialServer(t, srv)
	require.NoError(tr.BlindWrite(ctx, "sys_scratchpad", []byte{1, 2, 3, 4}, 0))
	srv.SetReplyDelay(150 * time.Millisecond)

	retries := 2
	start := time.Now()
	ok, err := tr.IsConnected(ctx,
		transport.WithProbeTimeout(50*time.Millisecond),
		transport.WithProbeRetries(retries),
	)
	require.NoError(err)
	require.False(ok)
	require.Less(time.Since(start), time.Second)

	// every attempt reached the board and the session survived the slow replies
	require.Eventually(func() bool {
		return srv.RequestCount("watchdog") == int64(retries+1)
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(katcp.ConnectedState, tr.Session().State())
	require.Equal(uint64(retries+1), tr.Session().Metrics().TimeoutCount.Load())

	srv.SetReplyDelay(0)

	data, err := tr.Read(ctx, "sys_scratchpad", 4, 0)
	require.NoError(err)
	require.Equal([]byte{1, 2, 3, 4}, data)

	ok, err = tr.IsConnected(ctx)
	require.NoError(err)
	require.True(ok)
}

func TestTransport_IsConnectedWithoutMessageIDs(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startServer(t, katcpmock.WithProtocol("5.0-I"))
	tr := dialServer(t, srv)
	srv.SetReplyDelay(100 * time.Millisecond)

	ok, err := tr.IsConnected(ctx, transport.WithProbeTimeout(30*time.Millisecond), transport.WithProbeRetries(0))
	require.NoError(err)
	require.False(ok)
	require.Equal(katcp.ConnectedState, tr.Session().State())

	srv.SetReplyDelay(0)

	// the stale !watchdog is skipped while waiting for !listdev
	names, err := tr.ListDev(ctx)
	require.NoError(err)
	require.Equal([]string{"sys_board_id", "sys_scratchpad", "adc_snap_bram"}, names)
}

func TestTransport_CloseAfterFailure(t *testing.T) {
	require := require.New(t)

	srv := startServer(t)
	tr := dialServer(t, srv)
	srv.SetReplyDelay(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Read(ctx, "sys_scratchpad", 4, 0)
	require.ErrorIs(err, katcp.ErrTimeout)
	require.Equal(katcp.FailedState, tr.Session().State())

	require.NoError(tr.Close())
	require.NoError(tr.Close())
}

func TestTransport_ProgrammedAndRunning(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startServer(t)
	tr := dialServer(t, srv)

	programmed, err := tr.IsProgrammed(ctx)
	require.NoError(err)
	require.False(programmed)

	state, err := tr.IsRunning(ctx)
	require.NoError(err)
	require.Equal(transport.RunStateNotRunning, state)

	srv.Store().Program([]byte("bitstream"))

	programmed, err = tr.IsProgrammed(ctx)
	require.NoError(err)
	require.True(programmed)

	state, err = tr.IsRunning(ctx)
	require.NoError(err)
	require.Equal(transport.RunStateRunning, state)
}

func TestTransport_UploadToRAMAndProgram(t *testing.T) {
	require := require.New(t)

	srv := startServer(t)
	tr := dialServer(t, srv, katcp.WithUploadPort(freePort(t)), katcp.WithUploadTimeout(10*time.Second))

	image := bytes.Repeat([]byte("?fpg\n\x00\x01"), 4096)
	path := filepath.Join(t.TempDir(), "design.fpg")
	require.NoError(os.WriteFile(path, image, 0o600))

	res := tr.UploadToRAMAndProgram(context.Background(), path)
	require.NoError(res.Err)
	require.True(res.Value)
	require.True(res.Succeeded())

	require.True(srv.Store().Programmed())
	require.Equal(image, srv.Store().Image())

	programmed, err := tr.IsProgrammed(context.Background())
	require.NoError(err)
	require.True(programmed)
}

func TestTransport_UploadValidation(t *testing.T) {
	require := require.New(t)

	srv := startServer(t)
	tr := dialServer(t, srv)
	before := srv.TotalRequests()

	res := tr.UploadToRAMAndProgram(context.Background(), "design.bit")
	require.ErrorIs(res.Err, transport.ErrValidation)
	require.False(res.Succeeded())

	res = tr.UploadToRAMAndProgram(context.Background(), filepath.Join(t.TempDir(), "missing.fpg"))
	require.Error(res.Err)
	require.True(errors.Is(res.Err, os.ErrNotExist))

	require.Equal(before, srv.TotalRequests())
}

func TestDial_InvalidConfig(t *testing.T) {
	_, err := katcp.Dial(context.Background(), nil)
	require.ErrorIs(t, err, transport.ErrConfig)
}
