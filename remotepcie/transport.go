package remotepcie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"

	"github.com/arloliu/go-casperfpga/logger"
	"github.com/arloliu/go-casperfpga/transport"
)

const imageFormField = "fpga"

// Transport is a transport.Transport backed by a REST gateway.
type Transport struct {
	cfg     *Config
	logger  logger.Logger
	metrics ClientMetrics
	closed  atomic.Bool

	gatewayVersion string
}

// ensure Transport implements transport.Transport interface.
var _ transport.Transport = (*Transport)(nil)

// New creates a gateway transport and verifies that the gateway speaks ProtocolVersion.
//
// An unreachable gateway, a non-200 or malformed /version response, and a
// version mismatch are all reported as *transport.ConfigError.
func New(ctx context.Context, cfg *Config) (*Transport, error) {
	if cfg == nil {
		return nil, &transport.ConfigError{Field: "config", Reason: "config is nil"}
	}

	t := &Transport{
		cfg:    cfg,
		logger: cfg.logger.With("transport", "remotepcie", "uri", cfg.uri, "host", cfg.host),
	}

	version, err := t.fetchVersion(ctx)
	if err != nil {
		t.logger.Warn("remotepcie gateway not functional", "error", err)
		return nil, &transport.ConfigError{
			Field:  "uri",
			Reason: fmt.Sprintf("gateway at %s not functional or not version %s", cfg.uri, ProtocolVersion),
			Err:    err,
		}
	}

	if err := checkVersion(version); err != nil {
		t.logger.Warn("remotepcie gateway version mismatch", "version", version, "want", ProtocolVersion)
		return nil, &transport.ConfigError{
			Field:  "gateway version",
			Reason: fmt.Sprintf("gateway at %s: %v", cfg.uri, err),
		}
	}
	t.gatewayVersion = version

	t.logger.Info("remotepcie client created", "version", version, "instance_id", cfg.instanceID)

	return t, nil
}

func (t *Transport) fetchVersion(ctx context.Context) (string, error) {
	resp, err := t.do(ctx, &request{op: "version", method: http.MethodGet, path: "/version"})
	if err != nil {
		return "", err
	}

	return decodeResponse[string]("version", resp)
}

// checkVersion accepts exactly ProtocolVersion. Anything else is rejected, and
// the error tells a malformed version apart from an older or newer gateway.
func checkVersion(got string) error {
	if got == ProtocolVersion {
		return nil
	}

	v, want := "v"+got, "v"+ProtocolVersion
	switch {
	case !semver.IsValid(v) || semver.Canonical(v) != v:
		return fmt.Errorf("version %q is not in MAJOR.MINOR.PATCH form, want %q", got, ProtocolVersion)
	case semver.Compare(v, want) > 0:
		return fmt.Errorf("version %q is newer than supported %q", got, ProtocolVersion)
	default:
		return fmt.Errorf("version %q is older than supported %q", got, ProtocolVersion)
	}
}

// Host returns the board name.
func (t *Transport) Host() string { return t.cfg.host }

// Kind returns "remotepcie".
func (t *Transport) Kind() string { return "remotepcie" }

// GatewayVersion returns the version the gateway reported at construction.
func (t *Transport) GatewayVersion() string { return t.gatewayVersion }

// Metrics returns the transport's counters.
func (t *Transport) Metrics() *ClientMetrics { return &t.metrics }

// Close releases idle connections. Calls after Close return transport.ErrClosed.
func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.cfg.httpClient.CloseIdleConnections()
		t.logger.Debug("remotepcie client closed")
	}

	return nil
}

// IsConnected asks the gateway whether the board answers within the probe timeout
// and retries. The board probe is performed by the gateway; failures to reach the
// gateway itself are returned as errors.
func (t *Transport) IsConnected(ctx context.Context, opts ...transport.ProbeOption) (bool, error) {
	probe := transport.NewProbeConfig(t.cfg.timeout, t.cfg.retries, opts...)

	query := url.Values{}
	query.Set("timeout", strconv.FormatFloat(probe.Timeout.Seconds(), 'f', -1, 64))
	query.Set("retries", strconv.Itoa(probe.Retries))

	resp, err := t.do(ctx, &request{
		op:      "connected",
		method:  http.MethodGet,
		path:    t.boardPath("/connected"),
		query:   query,
		timeout: probe.Timeout*time.Duration(probe.Retries+1) + t.cfg.timeout,
	})
	if err != nil {
		return false, err
	}

	return decodeResponse[bool]("connected", resp)
}

// IsProgrammed asks the gateway whether it knows the image loaded on the board.
func (t *Transport) IsProgrammed(ctx context.Context) (bool, error) {
	resp, err := t.get(ctx, "programmed", "/programmed", nil)
	if err != nil {
		return false, err
	}

	return decodeResponse[bool]("programmed", resp)
}

// IsRunning always reports transport.RunStateUnknown; the gateway has no run-state endpoint.
func (t *Transport) IsRunning(_ context.Context) (transport.RunState, error) {
	return transport.RunStateUnknown, nil
}

// Read returns size bytes from device starting at offset.
func (t *Transport) Read(ctx context.Context, device string, size int, offset int) ([]byte, error) {
	if err := transport.ValidateRead(device, size, offset); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("size", strconv.Itoa(size))
	query.Set("offset", strconv.Itoa(offset))

	resp, err := t.get(ctx, "read", "/device/"+url.PathEscape(device), query)
	if err != nil {
		return nil, err
	}

	if len(resp.body) != size {
		return nil, fmt.Errorf("remotepcie: read %s: %w: got %d of %d bytes", device, transport.ErrShortRead, len(resp.body), size)
	}
	t.metrics.addBytesRead(size)

	return resp.body, nil
}

// BlindWrite writes data to device at offset without verification.
// Misaligned requests are rejected before anything is sent.
func (t *Transport) BlindWrite(ctx context.Context, device string, data []byte, offset int) error {
	if err := transport.ValidateWrite(device, data, offset); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))

	if _, err := t.put(ctx, "write", "/device/"+url.PathEscape(device), query, data); err != nil {
		return err
	}
	t.metrics.addBytesWritten(len(data))

	return nil
}

// ListDev returns the device names in the order the gateway reports them.
func (t *Transport) ListDev(ctx context.Context) ([]string, error) {
	resp, err := t.get(ctx, "listdev", "/device", nil)
	if err != nil {
		return nil, err
	}

	names, err := decodeResponse[[]string]("listdev", resp)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}

	return names, nil
}

// Get issues GET <uri>/<host><endpoint> and returns the "response" member of
// the reply envelope. It reaches gateway endpoints that have no Transport method.
func (t *Transport) Get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	resp, err := t.get(ctx, "get "+endpoint, endpoint, query)
	if err != nil {
		return nil, err
	}

	return decodeResponse[json.RawMessage]("get "+endpoint, resp)
}

// Put issues PUT <uri>/<host><endpoint> with payload and returns the "response"
// member of the reply envelope.
//
// Maps and json.RawMessage are sent as application/json; []byte and io.Reader
// as application/octet-stream; nil sends no body. Any other payload type is a
// *transport.ValidationError and nothing is sent.
func (t *Transport) Put(ctx context.Context, endpoint string, query url.Values, payload any) (json.RawMessage, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	resp, err := t.put(ctx, "put "+endpoint, endpoint, query, payload)
	if err != nil {
		return nil, err
	}

	return decodeResponse[json.RawMessage]("put "+endpoint, resp)
}

func validateEndpoint(endpoint string) error {
	if !strings.HasPrefix(endpoint, "/") {
		return &transport.ValidationError{Field: "endpoint", Value: endpoint, Reason: "must start with /"}
	}

	return nil
}

// UploadToRAMAndProgram streams the image to the gateway as multipart field "fpga".
// Only HTTP 200 is success; any other status is reported in the Result error.
func (t *Transport) UploadToRAMAndProgram(ctx context.Context, imagePath string) transport.Result[bool] {
	if err := transport.ValidateImagePath(imagePath); err != nil {
		return transport.Failed[bool](err)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return transport.Failed[bool](fmt.Errorf("remotepcie: open image: %w", err))
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.uploadTimeout)
	defer cancel()

	body, contentType := multipartImage(f, filepath.Base(imagePath))
	defer body.Close()

	t.logger.Info("remotepcie uploading image", "image", imagePath)

	start := time.Now()
	_, err = t.do(ctx, &request{
		op:          "upload",
		method:      http.MethodPut,
		path:        t.boardPath("/fpgfile"),
		body:        body,
		contentType: contentType,
		timeout:     t.cfg.uploadTimeout,
	})
	if err != nil {
		var remoteErr *transport.RemoteError
		if !errors.As(err, &remoteErr) {
			t.logger.Warn("remotepcie image upload failed", "image", imagePath, "error", err)
		}

		return transport.Failed[bool](err)
	}

	t.logger.Info("remotepcie image programmed", "image", imagePath, "elapsed", time.Since(start))

	return transport.OK(true)
}

// multipartImage streams r as a multipart/form-data body with a single file field.
// The returned reader must be closed to stop the writer goroutine.
func multipartImage(r io.Reader, filename string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(imageFormField, filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}
