package remotepcie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-casperfpga/transport"
)

const (
	headerRequestID   = "X-Request-ID"
	headerInstanceID  = "X-Instance-ID"
	headerContentType = "Content-Type"

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// maxResponseSize bounds a buffered response body.
const maxResponseSize = 256 << 20

// envelope is the JSON wrapper the gateway puts around every structured response.
type envelope struct {
	Response json.RawMessage `json:"response"`
}

// request describes one gateway call.
type request struct {
	op          string
	method      string
	path        string // absolute path below the gateway URI
	query       url.Values
	body        io.Reader
	contentType string
	timeout     time.Duration
}

// response is a buffered 200 response.
type response struct {
	requestID   string
	contentType string
	body        []byte
}

// encodePayload picks the body encoding for data.
//
// Maps and json.RawMessage are sent as JSON; []byte and io.Reader as
// application/octet-stream. A nil payload sends no body. Every other type is a
// *transport.ValidationError.
func encodePayload(data any) (io.Reader, string, error) {
	switch v := data.(type) {
	case nil:
		return nil, "", nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, "", &transport.ValidationError{Field: "payload", Value: string(v), Reason: "is not valid JSON"}
		}
		return bytes.NewReader(v), contentTypeJSON, nil
	case []byte:
		return bytes.NewReader(v), contentTypeBinary, nil
	case io.Reader:
		return v, contentTypeBinary, nil
	}

	if reflect.TypeOf(data).Kind() == reflect.Map {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, "", &transport.ValidationError{Field: "payload", Value: fmt.Sprintf("%T", data), Reason: "cannot be encoded as JSON: " + err.Error()}
		}
		return bytes.NewReader(b), contentTypeJSON, nil
	}

	return nil, "", &transport.ValidationError{
		Field:  "payload",
		Value:  fmt.Sprintf("%T", data),
		Reason: "unsupported type, want a map, json.RawMessage, []byte or io.Reader",
	}
}

// boardPath returns the path of endpoint below the board.
func (t *Transport) boardPath(endpoint string) string {
	return "/" + url.PathEscape(t.cfg.host) + endpoint
}

func (t *Transport) get(ctx context.Context, op string, endpoint string, query url.Values) (*response, error) {
	return t.do(ctx, &request{op: op, method: http.MethodGet, path: t.boardPath(endpoint), query: query})
}

func (t *Transport) put(ctx context.Context, op string, endpoint string, query url.Values, data any) (*response, error) {
	body, contentType, err := encodePayload(data)
	if err != nil {
		return nil, err
	}

	return t.do(ctx, &request{
		op:          op,
		method:      http.MethodPut,
		path:        t.boardPath(endpoint),
		query:       query,
		body:        body,
		contentType: contentType,
	})
}

// do sends req and buffers the response. Any status other than 200 is a *transport.RemoteError.
func (t *Transport) do(ctx context.Context, req *request) (*response, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("remotepcie: %s: %w", req.op, transport.ErrClosed)
	}

	timeout := req.timeout
	if timeout <= 0 {
		timeout = t.cfg.timeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := t.cfg.uri + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return nil, fmt.Errorf("remotepcie: %s: create request: %w", req.op, err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set(headerRequestID, requestID)
	httpReq.Header.Set(headerInstanceID, t.cfg.instanceID)
	if req.contentType != "" {
		httpReq.Header.Set(headerContentType, req.contentType)
	}

	t.metrics.incRequestCount()
	t.logger.Debug("remotepcie request", "op", req.op, "method", req.method, "url", target, "request_id", requestID)

	resp, err := t.cfg.httpClient.Do(httpReq)
	if err != nil {
		return nil, t.transportError(ctx, req.op, timeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, t.transportError(ctx, req.op, timeout, err)
	}

	contentType := resp.Header.Get(headerContentType)
	if resp.StatusCode != http.StatusOK {
		t.metrics.incRemoteErrCount()
		remoteErr := &transport.RemoteError{
			Op:         "remotepcie: " + req.op,
			StatusCode: resp.StatusCode,
			Body:       decodeErrorBody(raw, contentType),
			Raw:        raw,
		}
		t.logger.Warn("remotepcie request failed", "op", req.op, "status", resp.StatusCode, "request_id", requestID, "body", remoteErr.Body)

		return nil, remoteErr
	}

	return &response{requestID: requestID, contentType: contentType, body: raw}, nil
}

func (t *Transport) transportError(ctx context.Context, op string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("remotepcie: %s: %w", op, ctx.Err())
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		t.metrics.incTimeoutCount()
		t.logger.Warn("remotepcie request timed out", "op", op, "uri", t.cfg.uri, "timeout", timeout)

		return &transport.TimeoutError{Op: "remotepcie: " + op, Addr: t.cfg.uri, After: timeout}
	}

	return fmt.Errorf("remotepcie: %s: %w", op, err)
}

// decodeErrorBody returns the JSON value of an error response, or its text when it is not JSON.
func decodeErrorBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == contentTypeJSON || json.Valid(raw) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}

	return string(raw)
}

// decodeResponse unwraps the "response" member of a JSON envelope into T.
func decodeResponse[T any](op string, resp *response) (T, error) {
	var zero T

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return zero, fmt.Errorf("remotepcie: %s: decode envelope: %w", op, err)
	}
	if len(env.Response) == 0 {
		return zero, fmt.Errorf("remotepcie: %s: envelope has no response member", op)
	}

	var v T
	if err := json.Unmarshal(env.Response, &v); err != nil {
		return zero, fmt.Errorf("remotepcie: %s: decode response: %w", op, err)
	}

	return v, nil
}
