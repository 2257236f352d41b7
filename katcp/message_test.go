package katcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Bytes(t *testing.T) {
	tests := []struct {
		name     string
		msg      *Message
		expected string
	}{
		{
			name:     "request without mid",
			msg:      NewRequest("watchdog", 0),
			expected: "?watchdog\n",
		},
		{
			name:     "request with mid and int args",
			msg:      NewRequest("read", 7, "sys_scratchpad", 0, 4),
			expected: "?read[7] sys_scratchpad 0 4\n",
		},
		{
			name:     "escaped binary payload",
			msg:      NewReply("read", 0, ReplyOK, []byte{0, ' ', '\\', '\n', '\r', 0x1b, '\t', 'a'}),
			expected: "!read ok \\0\\_\\\\\\n\\r\\e\\ta\n",
		},
		{
			name:     "empty argument",
			msg:      NewInform("log", 0, "", true, false),
			expected: "#log \\@ 1 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.msg.Bytes()))
		})
	}
}

func TestParseMessage(t *testing.T) {
	require := require.New(t)

	msg, err := ParseMessage([]byte("!read[12] ok \\0\\0\\_\\1x\r\n"))
	require.Error(err, "\\1 is not a valid escape")
	require.Nil(msg)

	msg, err = ParseMessage([]byte("!read[12]  ok\t\\0\\0\\_a\n"))
	require.NoError(err)
	require.Equal(ReplyType, msg.Type)
	require.Equal("read", msg.Name)
	require.Equal(12, msg.MID)
	require.True(msg.IsOK())
	require.Equal([]byte{0, 0, ' ', 'a'}, msg.Args[1])

	msg, err = ParseMessage([]byte("#version-connect katcp-protocol 5.0-MI"))
	require.NoError(err)
	require.Equal(InformType, msg.Type)
	require.Equal("version-connect", msg.Name)
	require.Equal(0, msg.MID)
	require.Equal("katcp-protocol", msg.Arg(0))
	require.Equal("5.0-MI", msg.Arg(1))
	require.Equal("", msg.Arg(5))

	msg, err = ParseMessage([]byte("?listdev \\@"))
	require.NoError(err)
	require.Len(msg.Args, 1)
	require.Empty(msg.Args[0])
}

func TestParseMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"unknown type", "*read"},
		{"missing name", "? "},
		{"name starts with digit", "?1read"},
		{"name with underscore", "?read_dev"},
		{"unterminated mid", "?read[3 dev"},
		{"zero mid", "?read[0] dev"},
		{"non numeric mid", "?read[x] dev"},
		{"trailing escape", "!read ok abc\\"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.line))
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	_, err := ParseMessage([]byte("\r\n"))
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestMessage_EscapeRoundTrip(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	msg := NewRequest("write", 3, "dev", 0, payload)
	parsed, err := ParseMessage(msg.Bytes())
	require.NoError(t, err)
	require.Equal(t, msg.Name, parsed.Name)
	require.Equal(t, msg.MID, parsed.MID)
	require.Equal(t, payload, parsed.Args[2])
	require.Equal(t, msg.String()+"\n", string(msg.Bytes()))
}

func TestMessage_IntArg(t *testing.T) {
	require := require.New(t)

	msg := NewRequest("read", 0, "dev", 16, "x")
	n, err := msg.IntArg(1)
	require.NoError(err)
	require.Equal(16, n)

	_, err = msg.IntArg(2)
	require.ErrorIs(err, ErrInvalidMessage)

	_, err = msg.IntArg(3)
	require.ErrorIs(err, ErrInvalidMessage)
}

func TestFormatArg(t *testing.T) {
	assert.Equal(t, []byte("42"), FormatArg(42))
	assert.Equal(t, []byte("-1"), FormatArg(int64(-1)))
	assert.Equal(t, []byte("7"), FormatArg(uint32(7)))
	assert.Equal(t, []byte("1"), FormatArg(true))
	assert.Equal(t, []byte("1.5"), FormatArg(1.5))
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "request", RequestType.String())
	assert.Equal(t, "reply", ReplyType.String())
	assert.Equal(t, "inform", InformType.String())
	assert.Equal(t, "unknown", MessageType('x').String())
}
