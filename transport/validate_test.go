package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWrite(t *testing.T) {
	tests := []struct {
		name   string
		device string
		data   []byte
		offset int
		field  string
	}{
		{name: "aligned", device: "sys_scratchpad", data: make([]byte, 8), offset: 4},
		{name: "empty payload", device: "sys_scratchpad", data: []byte{}, offset: 0},
		{name: "misaligned size", device: "sys_scratchpad", data: make([]byte, 3), offset: 0, field: "size"},
		{name: "misaligned offset", device: "sys_scratchpad", data: make([]byte, 4), offset: 2, field: "offset"},
		{name: "negative offset", device: "sys_scratchpad", data: make([]byte, 4), offset: -4, field: "offset"},
		{name: "nil payload", device: "sys_scratchpad", data: nil, offset: 0, field: "data"},
		{name: "empty device", device: " ", data: make([]byte, 4), offset: 0, field: "device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWrite(tt.device, tt.data, tt.offset)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateWrite_AlignmentProperty(t *testing.T) {
	for offset := 0; offset < 16; offset++ {
		for size := 0; size < 16; size++ {
			err := ValidateWrite("dev", make([]byte, size), offset)
			if offset%4 == 0 && size%4 == 0 {
				assert.NoError(t, err, "offset=%d size=%d", offset, size)
			} else {
				assert.ErrorIs(t, err, ErrValidation, "offset=%d size=%d", offset, size)
			}
		}
	}
}

func TestValidateRead(t *testing.T) {
	require := require.New(t)

	require.NoError(ValidateRead("dev", 4, 0))
	// reads carry no alignment requirement
	require.NoError(ValidateRead("dev", 3, 1))
	require.ErrorIs(ValidateRead("dev", 0, 0), ErrValidation)
	require.ErrorIs(ValidateRead("dev", 4, -1), ErrValidation)
	require.ErrorIs(ValidateRead("", 4, 0), ErrValidation)
}

func TestValidateImagePath(t *testing.T) {
	require := require.New(t)

	require.NoError(ValidateImagePath("/tmp/cosmic_feng_8b.fpg"))
	require.ErrorIs(ValidateImagePath("/tmp/cosmic_feng_8b.bit"), ErrValidation)
	require.ErrorIs(ValidateImagePath("/tmp/fpg"), ErrValidation)
	require.ErrorIs(ValidateImagePath(""), ErrValidation)
}

func TestErrorKinds(t *testing.T) {
	require := require.New(t)

	var err error = &TimeoutError{Op: "connect", Addr: "10.0.0.1:7147", After: 2 * time.Second}
	require.True(IsTimeout(err))
	require.Equal("connect 10.0.0.1:7147: timed out after 2s", err.Error())

	var netErr interface{ Timeout() bool }
	require.ErrorAs(err, &netErr)
	require.True(netErr.Timeout())
	require.False(errors.Is(err, ErrRemote))

	cause := errors.New("connection refused")
	err = &ConfigError{Field: "uri", Reason: "gateway unreachable", Err: cause}
	require.ErrorIs(err, ErrConfig)
	require.ErrorIs(err, cause)
	require.Equal("invalid uri: gateway unreachable: connection refused", err.Error())

	err = &RemoteError{Op: "read", StatusCode: 404, Body: map[string]any{"error": "no such device"}}
	require.ErrorIs(err, ErrRemote)
	require.False(IsTimeout(err))

	err = &ValidationError{Field: "offset", Value: 3, Reason: "must write 32-bit-bounded words"}
	require.ErrorIs(err, ErrValidation)
	require.Equal("invalid offset 3: must write 32-bit-bounded words", err.Error())
}
