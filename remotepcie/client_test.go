package remotepcie

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-casperfpga/transport"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name        string
		data        any
		contentType string
		body        string
	}{
		{"string map", map[string]string{"mode": "debug"}, contentTypeJSON, `{"mode":"debug"}`},
		{"any map", map[string]any{"offset": 4}, contentTypeJSON, `{"offset":4}`},
		{"raw json", json.RawMessage(`[1,2]`), contentTypeJSON, `[1,2]`},
		{"bytes", []byte{0, 1, 2, 3}, contentTypeBinary, "\x00\x01\x02\x03"},
		{"reader", strings.NewReader("abcd"), contentTypeBinary, "abcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType, err := encodePayload(tt.data)
			require.NoError(t, err)
			require.Equal(t, tt.contentType, contentType)

			raw, err := io.ReadAll(body)
			require.NoError(t, err)
			require.Equal(t, tt.body, string(raw))
		})
	}

	body, contentType, err := encodePayload(nil)
	require.NoError(t, err)
	require.Nil(t, body)
	require.Empty(t, contentType)
}

func TestEncodePayload_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{"string", "deadbeef"},
		{"int", 42},
		{"struct", struct{ A int }{1}},
		{"slice of ints", []int{1, 2}},
		{"invalid raw json", json.RawMessage(`{`)},
		{"unencodable map", map[string]any{"f": func() {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := encodePayload(tt.data)
			require.ErrorIs(t, err, transport.ErrValidation)

			var vErr *transport.ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, "payload", vErr.Field)
		})
	}
}

func TestDecodeErrorBody(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(map[string]any{"response": "no such device"},
		decodeErrorBody([]byte(`{"response":"no such device"}`), "application/json"))
	assert.Equal([]any{"a", float64(1)}, decodeErrorBody([]byte(`["a",1]`), ""))
	assert.Equal("Internal Server Error", decodeErrorBody([]byte("Internal Server Error"), "text/plain"))
	assert.Equal("{broken", decodeErrorBody([]byte("{broken"), "application/json"))
	assert.Equal("", decodeErrorBody(nil, ""))
}

func TestDecodeResponse(t *testing.T) {
	require := require.New(t)

	names, err := decodeResponse[[]string]("listdev", &response{body: []byte(`{"response":["a","b"]}`)})
	require.NoError(err)
	require.Equal([]string{"a", "b"}, names)

	ok, err := decodeResponse[bool]("programmed", &response{body: []byte(`{"response":true}`)})
	require.NoError(err)
	require.True(ok)

	_, err = decodeResponse[bool]("programmed", &response{body: []byte(`{"result":true}`)})
	require.ErrorContains(err, "no response member")

	_, err = decodeResponse[bool]("programmed", &response{body: []byte(`{"response":"yes"}`)})
	require.Error(err)

	_, err = decodeResponse[string]("version", &response{body: bytes.Repeat([]byte("x"), 4)})
	require.Error(err)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version string
		reason  string
	}{
		{"1.0.0", ""},
		{"v1.0.0", "MAJOR.MINOR.PATCH"},
		{"1.0", "MAJOR.MINOR.PATCH"},
		{"1.0.0+build.7", "MAJOR.MINOR.PATCH"},
		{"", "MAJOR.MINOR.PATCH"},
		{"one", "MAJOR.MINOR.PATCH"},
		{"2.0.0", "newer"},
		{"1.0.1", "newer"},
		{"1.0.0-rc1", "older"},
		{"0.9.0", "older"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := checkVersion(tt.version)
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.reason)
		})
	}
}
