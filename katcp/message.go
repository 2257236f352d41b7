package katcp

import (
	"bytes"
	"fmt"
	"strconv"
)

// MessageType is the leading character of a KATCP message line.
type MessageType byte

const (
	// RequestType marks a request ("?name").
	RequestType MessageType = '?'
	// ReplyType marks the reply to a request ("!name").
	ReplyType MessageType = '!'
	// InformType marks an inform ("#name"), either unsolicited or part of a reply.
	InformType MessageType = '#'
)

func (t MessageType) String() string {
	switch t {
	case RequestType:
		return "request"
	case ReplyType:
		return "reply"
	case InformType:
		return "inform"
	default:
		return "unknown"
	}
}

// Reply status codes carried as the first argument of a reply.
const (
	ReplyOK      = "ok"
	ReplyFail    = "fail"
	ReplyInvalid = "invalid"
)

// Message is a single KATCP line.
//
// MID is the optional message identifier; zero means the message carries none.
// Args hold unescaped argument bytes.
type Message struct {
	Type MessageType
	Name string
	MID  int
	Args [][]byte
}

// NewRequest creates a request message. Each argument is formatted with FormatArg.
func NewRequest(name string, mid int, args ...any) *Message {
	return newMessage(RequestType, name, mid, args...)
}

// NewReply creates a reply message.
func NewReply(name string, mid int, args ...any) *Message {
	return newMessage(ReplyType, name, mid, args...)
}

// NewInform creates an inform message.
func NewInform(name string, mid int, args ...any) *Message {
	return newMessage(InformType, name, mid, args...)
}

func newMessage(typ MessageType, name string, mid int, args ...any) *Message {
	msg := &Message{Type: typ, Name: name, MID: mid, Args: make([][]byte, 0, len(args))}
	for _, arg := range args {
		msg.Args = append(msg.Args, FormatArg(arg))
	}

	return msg
}

// FormatArg converts a Go value into KATCP argument bytes.
//
// Supported types are []byte, string, bool (encoded as "1"/"0"), and the signed
// and unsigned integer types. Any other value is formatted with fmt.Sprint.
func FormatArg(v any) []byte {
	switch val := v.(type) {
	case []byte:
		return val
	case string:
		return []byte(val)
	case bool:
		if val {
			return []byte("1")
		}
		return []byte("0")
	case int:
		return strconv.AppendInt(nil, int64(val), 10)
	case int32:
		return strconv.AppendInt(nil, int64(val), 10)
	case int64:
		return strconv.AppendInt(nil, val, 10)
	case uint:
		return strconv.AppendUint(nil, uint64(val), 10)
	case uint32:
		return strconv.AppendUint(nil, uint64(val), 10)
	case uint64:
		return strconv.AppendUint(nil, val, 10)
	default:
		return []byte(fmt.Sprint(val))
	}
}

// Arg returns the i-th argument as a string, or "" when absent.
func (m *Message) Arg(i int) string {
	if i < 0 || i >= len(m.Args) {
		return ""
	}

	return string(m.Args[i])
}

// IntArg parses the i-th argument as a decimal integer.
func (m *Message) IntArg(i int) (int, error) {
	if i < 0 || i >= len(m.Args) {
		return 0, fmt.Errorf("%w: %s has no argument %d", ErrInvalidMessage, m.Name, i)
	}

	n, err := strconv.Atoi(string(m.Args[i]))
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %d: %w", ErrInvalidMessage, m.Name, i, err)
	}

	return n, nil
}

// Code returns the status code of a reply (its first argument).
func (m *Message) Code() string {
	return m.Arg(0)
}

// IsOK reports whether m is a reply with status "ok".
func (m *Message) IsOK() bool {
	return m.Type == ReplyType && m.Code() == ReplyOK
}

func (m *Message) String() string {
	return string(bytes.TrimSuffix(m.Bytes(), []byte{'\n'}))
}

// Bytes encodes the message as a newline-terminated KATCP line.
func (m *Message) Bytes() []byte {
	buf := make([]byte, 0, 16+len(m.Name)+argsLen(m.Args))
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.Name...)
	if m.MID > 0 {
		buf = append(buf, '[')
		buf = strconv.AppendInt(buf, int64(m.MID), 10)
		buf = append(buf, ']')
	}
	for _, arg := range m.Args {
		buf = append(buf, ' ')
		buf = appendEscaped(buf, arg)
	}
	buf = append(buf, '\n')

	return buf
}

func argsLen(args [][]byte) int {
	n := 0
	for _, arg := range args {
		n += len(arg) + 1
	}

	return n
}

// ParseMessage decodes a single KATCP line. A trailing "\n" or "\r\n" is ignored.
func ParseMessage(line []byte) (*Message, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := &Message{Type: MessageType(line[0])}
	switch msg.Type {
	case RequestType, ReplyType, InformType:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, line[0])
	}

	fields := splitFields(line[1:])
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidMessage)
	}

	name, mid, err := parseNameMID(fields[0])
	if err != nil {
		return nil, err
	}
	msg.Name = name
	msg.MID = mid

	msg.Args = make([][]byte, 0, len(fields)-1)
	for _, field := range fields[1:] {
		arg, err := unescape(field)
		if err != nil {
			return nil, err
		}
		msg.Args = append(msg.Args, arg)
	}

	return msg, nil
}

// splitFields splits on runs of spaces and tabs.
func splitFields(b []byte) [][]byte {
	return bytes.FieldsFunc(b, func(r rune) bool { return r == ' ' || r == '\t' })
}

func parseNameMID(field []byte) (string, int, error) {
	name := field
	mid := 0

	if i := bytes.IndexByte(field, '['); i >= 0 {
		if field[len(field)-1] != ']' {
			return "", 0, fmt.Errorf("%w: malformed message id in %q", ErrInvalidMessage, field)
		}
		n, err := strconv.Atoi(string(field[i+1 : len(field)-1]))
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("%w: malformed message id in %q", ErrInvalidMessage, field)
		}
		name = field[:i]
		mid = n
	}

	if !validName(name) {
		return "", 0, fmt.Errorf("%w: invalid name %q", ErrInvalidMessage, name)
	}

	return string(name), mid, nil
}

func validName(name []byte) bool {
	if len(name) == 0 || !isAlpha(name[0]) {
		return false
	}
	for _, c := range name[1:] {
		if !isAlpha(c) && !(c >= '0' && c <= '9') && c != '-' {
			return false
		}
	}

	return true
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func appendEscaped(buf []byte, arg []byte) []byte {
	if len(arg) == 0 {
		return append(buf, '\\', '@')
	}

	for _, c := range arg {
		switch c {
		case '\\':
			buf = append(buf, '\\', '\\')
		case ' ':
			buf = append(buf, '\\', '_')
		case 0:
			buf = append(buf, '\\', '0')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case 0x1b:
			buf = append(buf, '\\', 'e')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			buf = append(buf, c)
		}
	}

	return buf
}

func unescape(field []byte) ([]byte, error) {
	if bytes.Equal(field, []byte(`\@`)) {
		return []byte{}, nil
	}
	if bytes.IndexByte(field, '\\') < 0 {
		return bytes.Clone(field), nil
	}

	out := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+1 >= len(field) {
			return nil, fmt.Errorf("%w: trailing escape in %q", ErrInvalidMessage, field)
		}
		i++
		switch field[i] {
		case '\\':
			out = append(out, '\\')
		case '_':
			out = append(out, ' ')
		case '0':
			out = append(out, 0)
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 'e':
			out = append(out, 0x1b)
		case 't':
			out = append(out, '\t')
		default:
			return nil, fmt.Errorf("%w: unknown escape \\%c", ErrInvalidMessage, field[i])
		}
	}

	return out, nil
}
