// Package stomp implements the push transport for STOMP 1.2 brokers reached
// over WebSocket, as exposed by Spring-style message brokers.
package stomp

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/hrconsole/notifyd/internal/errors"
)

// Frame commands used by the client.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// ErrMalformedFrame is returned by Parse for data that is not valid STOMP.
var ErrMalformedFrame = errors.NewStd("malformed STOMP frame")

// HeaderField is one header line.
type HeaderField struct {
	Key   string
	Value string
}

// Header keeps header lines in wire order. Repeated keys are allowed; the
// first occurrence wins on lookup.
type Header []HeaderField

// Get returns the first value for key.
func (h Header) Get(key string) (string, bool) {
	for _, f := range h {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the first value for key or "".
func (h Header) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Add appends a header line.
func (h *Header) Add(key, value string) {
	*h = append(*h, HeaderField{Key: key, Value: value})
}

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Header  Header
	Body    []byte
}

// NewFrame builds a frame from alternating key, value pairs.
func NewFrame(command string, kv ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header.Add(kv[i], kv[i+1])
	}
	return f
}

// CONNECT and CONNECTED header values are never escaped.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

var (
	escaper   = strings.NewReplacer("\\", `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	unescaper = strings.NewReplacer(`\\`, "\\", `\r`, "\r", `\n`, "\n", `\c`, ":")
)

// Marshal encodes f. A content-length header is added for non-empty bodies
// unless one is present.
func Marshal(f Frame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')

	esc := escapes(f.Command)
	for _, h := range f.Header {
		if esc {
			b.WriteString(escaper.Replace(h.Key))
			b.WriteByte(':')
			b.WriteString(escaper.Replace(h.Value))
		} else {
			b.WriteString(h.Key)
			b.WriteByte(':')
			b.WriteString(h.Value)
		}
		b.WriteByte('\n')
	}
	if _, ok := f.Header.Get("content-length"); !ok && len(f.Body) > 0 {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Parse decodes every frame in data. Heart-beat EOLs between frames are
// skipped, so a heart-beat-only message yields no frames.
func Parse(data []byte) ([]Frame, error) {
	var frames []Frame
	for {
		data = skipEOL(data)
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := parseOne(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func skipEOL(data []byte) []byte {
	for len(data) > 0 {
		switch {
		case data[0] == '\n':
			data = data[1:]
		case len(data) > 1 && data[0] == '\r' && data[1] == '\n':
			data = data[2:]
		default:
			return data
		}
	}
	return data
}

func readLine(data []byte) (line string, rest []byte, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, false
	}
	return strings.TrimSuffix(string(data[:i]), "\r"), data[i+1:], true
}

func parseOne(data []byte) (Frame, []byte, error) {
	var f Frame

	cmd, data, ok := readLine(data)
	if !ok || cmd == "" {
		return f, nil, malformed("missing command line")
	}
	f.Command = cmd
	esc := escapes(cmd)

	for {
		var line string
		line, data, ok = readLine(data)
		if !ok {
			return f, nil, malformed("unterminated header block")
		}
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return f, nil, malformed("header without colon")
		}
		if esc {
			key, value = unescaper.Replace(key), unescaper.Replace(value)
		}
		f.Header.Add(key, value)
	}

	if cl, ok := f.Header.Get("content-length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return f, nil, malformed("bad content-length")
		}
		if len(data) < n+1 || data[n] != 0 {
			return f, nil, malformed("body shorter than content-length")
		}
		f.Body = data[:n:n]
		return f, data[n+1:], nil
	}

	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return f, nil, malformed("missing NUL terminator")
	}
	f.Body = data[:end:end]
	return f, data[end+1:], nil
}

func malformed(reason string) error {
	return errors.New(ErrMalformedFrame).
		Component(componentName).
		Category(errors.CategoryPayload).
		Context("reason", reason).
		Build()
}
