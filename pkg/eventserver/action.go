package eventserver

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Action is the decoded payload of an ACTION packet.
type Action struct {
	Type byte
	Name string
	Args []string
}

// ParseAction decodes an ACTION payload back into the action name and its
// arguments, reversing the quoting done by FormatAction.
func ParseAction(payload []byte) (Action, error) {
	var a Action
	if len(payload) < 2 {
		return a, fmt.Errorf("%w: action payload too short", ErrMalformedPacket)
	}
	a.Type = payload[0]
	if a.Type != ActionExecBuiltin && a.Type != ActionButton {
		return a, fmt.Errorf("%w: unknown action type %#x", ErrMalformedPacket, a.Type)
	}

	body := payload[1:]
	if body[len(body)-1] != 0 {
		return a, fmt.Errorf("%w: action text is not NUL-terminated", ErrMalformedPacket)
	}
	body = body[:len(body)-1]
	if bytes.IndexByte(body, 0) >= 0 {
		return a, fmt.Errorf("%w: NUL inside action text", ErrMalformedPacket)
	}
	if !utf8.Valid(body) {
		return a, fmt.Errorf("%w: action text is not valid UTF-8", ErrMalformedPacket)
	}
	text := string(body)

	open := strings.IndexByte(text, '(')
	if open < 0 {
		a.Name = text
		return a, nil
	}
	if !strings.HasSuffix(text, ")") {
		return a, fmt.Errorf("%w: unterminated argument list", ErrMalformedPacket)
	}
	a.Name = text[:open]

	args, err := parseArgs(text[open+1 : len(text)-1])
	if err != nil {
		return a, err
	}
	a.Args = args
	return a, nil
}

// parseArgs splits a "a","b\"c" list. Only \" is an escape sequence; any
// other backslash is literal.
func parseArgs(list string) ([]string, error) {
	args := []string{}
	i := 0
	for {
		if i >= len(list) || list[i] != '"' {
			return nil, fmt.Errorf("%w: expected '\"' at offset %d of argument list", ErrMalformedPacket, i)
		}
		i++

		var arg strings.Builder
		closed := false
		for i < len(list) {
			c := list[i]
			if c == '\\' && i+1 < len(list) && list[i+1] == '"' {
				arg.WriteByte('"')
				i += 2
				continue
			}
			i++
			if c == '"' {
				closed = true
				break
			}
			arg.WriteByte(c)
		}
		if !closed {
			return nil, fmt.Errorf("%w: unterminated quoted argument", ErrMalformedPacket)
		}
		args = append(args, arg.String())

		if i == len(list) {
			return args, nil
		}
		if list[i] != ',' {
			return nil, fmt.Errorf("%w: expected ',' at offset %d of argument list", ErrMalformedPacket, i)
		}
		i++
	}
}

// Encoder writes one packet per call to an underlying writer. On a UDP
// connection every call becomes exactly one datagram.
type Encoder struct {
	w  io.Writer
	id ClientID
}

// NewEncoder returns an Encoder that stamps every packet with id.
func NewEncoder(w io.Writer, id ClientID) *Encoder {
	return &Encoder{w: w, id: id}
}

// EncodeAction writes an ACTION packet for action(args...).
func (e *Encoder) EncodeAction(action string, args ...string) error {
	b, err := EncodeAction(e.id, action, args...)
	if err != nil {
		return err
	}
	return e.write(b)
}

// EncodeBye writes a BYE packet.
func (e *Encoder) EncodeBye() error {
	return e.write(EncodeBye(e.id))
}

// EncodePing writes a PING packet.
func (e *Encoder) EncodePing() error {
	return e.write(EncodePing(e.id))
}

func (e *Encoder) write(b []byte) error {
	n, err := e.w.Write(b)
	if err != nil {
		return fmt.Errorf("eventserver: write packet: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("eventserver: short write: %d of %d bytes", n, len(b))
	}
	return nil
}
