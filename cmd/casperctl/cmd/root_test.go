package cmd

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-casperfpga/internal/config"
	"github.com/arloliu/go-casperfpga/internal/devicemem"
	"github.com/arloliu/go-casperfpga/internal/gatewaymock"
	"github.com/arloliu/go-casperfpga/internal/katcpmock"
	"github.com/arloliu/go-casperfpga/transport"
)

func newStore() *devicemem.Store {
	return devicemem.New().MustAdd("sys_board_id", 4).MustAdd("sys_scratchpad", 16)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv(config.EnvHost, "")
	t.Setenv(config.EnvURI, "")
	t.Setenv(config.EnvTransport, "")

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(append(args, "--log-level", "error"))
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.Execute()

	return stdout.String(), err
}

func katcpArgs(srv *katcpmock.Server, args ...string) []string {
	return append(args, "-t", "katcp", "-H", srv.Host(), "-p", strconv.Itoa(srv.Port()))
}

func gatewayArgs(gw *gatewaymock.Server, args ...string) []string {
	return append(args, "-t", "remotepcie", "-H", "pcie0", "--uri", gw.URL())
}

func startKATCP(t *testing.T, opts ...katcpmock.Option) *katcpmock.Server {
	t.Helper()

	srv, err := katcpmock.New(newStore(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	return srv
}

func startGateway(t *testing.T) *gatewaymock.Server {
	t.Helper()

	gw := gatewaymock.New("pcie0", newStore())
	t.Cleanup(gw.Close)

	return gw
}

func TestListDev(t *testing.T) {
	srv := startKATCP(t)

	out, err := run(t, katcpArgs(srv, "listdev")...)
	require.NoError(t, err)
	require.Equal(t, "sys_board_id\nsys_scratchpad\n", out)

	gw := startGateway(t)
	out, err = run(t, gatewayArgs(gw, "listdev", "-o", "json")...)
	require.NoError(t, err)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	require.Equal(t, []string{"sys_board_id", "sys_scratchpad"}, names)
}

func TestWriteRead(t *testing.T) {
	require := require.New(t)

	srv := startKATCP(t)

	out, err := run(t, katcpArgs(srv, "write", "sys_scratchpad", "0xdeadbeef", "--offset", "4")...)
	require.NoError(err)
	require.Contains(out, "wrote 4 bytes to sys_scratchpad at offset 4")

	out, err = run(t, katcpArgs(srv, "read", "sys_scratchpad", "4", "--offset", "4", "-o", "yaml")...)
	require.NoError(err)

	var res readResult
	require.NoError(yaml.Unmarshal([]byte(out), &res))
	require.Equal(readResult{Device: "sys_scratchpad", Offset: 4, Size: 4, Data: "deadbeef"}, res)

	out, err = run(t, katcpArgs(srv, "read", "sys_scratchpad", "8")...)
	require.NoError(err)
	require.Contains(out, "00 00 00 00 de ad be ef")
}

func TestWrite_Validation(t *testing.T) {
	srv := startKATCP(t)

	_, err := run(t, katcpArgs(srv, "write", "sys_scratchpad", "deadbe")...)
	require.ErrorIs(t, err, transport.ErrValidation)

	_, err = run(t, katcpArgs(srv, "write", "sys_scratchpad", "xyz")...)
	require.ErrorContains(t, err, "invalid hex data")

	require.Zero(t, srv.TotalRequests())
}

func TestStatus(t *testing.T) {
	require := require.New(t)

	srv := startKATCP(t)
	srv.Store().Program([]byte("image"))

	out, err := run(t, katcpArgs(srv, "status", "-o", "json")...)
	require.NoError(err)

	var res statusResult
	require.NoError(json.Unmarshal([]byte(out), &res))
	require.Equal(statusResult{Host: "127.0.0.1", Transport: "katcp", Connected: true, Programmed: true, Running: "Running"}, res)

	gw := startGateway(t)
	out, err = run(t, gatewayArgs(gw, "status")...)
	require.NoError(err)
	require.Contains(out, "HOST")
	require.Contains(out, "pcie0")
	require.Contains(out, "remotepcie")
	require.Contains(out, "Unknown")
}

func TestProgram(t *testing.T) {
	require := require.New(t)

	gw := startGateway(t)
	path := filepath.Join(t.TempDir(), "design.fpg")
	require.NoError(os.WriteFile(path, []byte("bitstream"), 0o600))

	out, err := run(t, gatewayArgs(gw, "program", path, "-o", "json")...)
	require.NoError(err)

	var res programResult
	require.NoError(json.Unmarshal([]byte(out), &res))
	require.True(res.OK)
	require.Equal([]byte("bitstream"), gw.Store().Image())

	_, err = run(t, gatewayArgs(gw, "program", "design.bit")...)
	require.ErrorIs(err, transport.ErrValidation)
}

func TestProbe(t *testing.T) {
	srv := startKATCP(t)

	out, err := run(t, "probe", srv.Host(), "-p", strconv.Itoa(srv.Port()), "-o", "json")
	require.NoError(t, err)

	var res probeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.KATCP)

	silent := startKATCP(t, katcpmock.WithSilent())
	out, err = run(t, "probe", silent.Host(), "-p", strconv.Itoa(silent.Port()), "--timeout", "100ms")
	require.NoError(t, err)
	require.Contains(t, out, "katcp: ")
	require.True(t, strings.HasSuffix(strings.TrimSpace(out), "no"))

	_, err = run(t, "probe")
	require.ErrorIs(t, err, errHostRequired)
}

func TestAutoTransport(t *testing.T) {
	srv := startKATCP(t)

	out, err := run(t, "listdev", "-t", "auto", "-H", srv.Host(), "-p", strconv.Itoa(srv.Port()))
	require.NoError(t, err)
	require.Contains(t, out, "sys_board_id")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = run(t, "listdev", "-t", "auto", "-H", "127.0.0.1", "-p", strconv.Itoa(port), "--timeout", "200ms")
	require.ErrorContains(t, err, "does not answer KATCP")
}

func TestConfigErrors(t *testing.T) {
	_, err := run(t, "listdev", "-t", "serial", "-H", "roach")
	require.ErrorIs(t, err, transport.ErrConfig)

	_, err = run(t, "listdev", "-t", "remotepcie", "-H", "pcie0")
	require.ErrorIs(t, err, transport.ErrConfig)

	_, err = run(t, "listdev", "-o", "xml", "-H", "roach")
	require.ErrorContains(t, err, "unknown output format")
}

func TestConfigFile(t *testing.T) {
	srv := startKATCP(t)

	path := filepath.Join(t.TempDir(), "casperctl.yaml")
	content := "transport: katcp\nhost: " + srv.Host() + "\nport: " + strconv.Itoa(srv.Port()) + "\ntimeout: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := run(t, "listdev", "-c", path)
	require.NoError(t, err)
	require.Equal(t, "sys_board_id\nsys_scratchpad\n", out)
}
