// Package eventserver encodes and decodes packets for Kodi's UDP event
// server (the "XBMC" binary protocol, API version 2.0).
//
// Only single-packet messages are produced: the sequence number and the
// total packet count are always 1.
package eventserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Wire constants.
const (
	Signature    = "XBMC"
	MajorVersion = 2
	MinorVersion = 0

	// DefaultPort is the UDP port Kodi's event server listens on.
	DefaultPort = 9777

	// HeaderSize is the fixed header length preceding the payload.
	HeaderSize = 32

	// MaxPayloadSize is the largest payload the 16-bit length field can describe.
	MaxPayloadSize = 0xFFFF

	reservedSize = 10
)

// Packet types.
const (
	PacketTypeBye    uint16 = 0x02
	PacketTypePing   uint16 = 0x05
	PacketTypeAction uint16 = 0x0A
)

// Action types carried in the first payload byte of an ACTION packet.
const (
	ActionExecBuiltin byte = 0x01
	ActionButton      byte = 0x02
)

var (
	// ErrInvalidArgument is returned when an action cannot be encoded.
	ErrInvalidArgument = errors.New("eventserver: invalid argument")

	// ErrMalformedPacket is returned by Decode and ParseAction for bytes that
	// do not follow the wire layout.
	ErrMalformedPacket = errors.New("eventserver: malformed packet")
)

// ClientID identifies the sending client for the lifetime of a process.
type ClientID uint32

// NewClientID derives a client identifier from a start time.
func NewClientID(t time.Time) ClientID {
	return ClientID(uint32(t.Unix()))
}

// Packet is a decoded single-packet message.
type Packet struct {
	Type     uint16
	Seq      uint32
	Total    uint32
	ClientID ClientID
	Payload  []byte
}

// FormatAction renders an action invocation: the bare name without args,
// otherwise Name("arg1","arg2") with embedded double quotes escaped.
//
// Inputs whose rendering ParseAction could not split back are rejected: a
// NUL anywhere, '(' ')' or '"' in the name, and an argument ending in a
// backslash (it would escape the closing quote).
func FormatAction(action string, args ...string) (string, error) {
	if err := checkName(action); err != nil {
		return "", err
	}
	if len(args) == 0 {
		return action, nil
	}

	var b strings.Builder
	b.WriteString(action)
	b.WriteByte('(')
	for i, arg := range args {
		if err := checkArg(i, arg); err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(arg, `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte(')')
	return b.String(), nil
}

func checkName(action string) error {
	switch {
	case action == "":
		return fmt.Errorf("%w: empty action name", ErrInvalidArgument)
	case !utf8.ValidString(action):
		return fmt.Errorf("%w: action name is not valid UTF-8", ErrInvalidArgument)
	case strings.ContainsAny(action, "\x00()\""):
		return fmt.Errorf("%w: action name %q contains NUL, '(', ')' or '\"'", ErrInvalidArgument, action)
	}
	return nil
}

func checkArg(i int, arg string) error {
	switch {
	case !utf8.ValidString(arg):
		return fmt.Errorf("%w: argument %d is not valid UTF-8", ErrInvalidArgument, i)
	case strings.IndexByte(arg, 0) >= 0:
		return fmt.Errorf("%w: argument %d contains NUL", ErrInvalidArgument, i)
	case strings.HasSuffix(arg, `\`):
		return fmt.Errorf("%w: argument %d ends with a backslash", ErrInvalidArgument, i)
	}
	return nil
}

// EncodeAction builds an ACTION packet that executes a built-in action.
func EncodeAction(id ClientID, action string, args ...string) ([]byte, error) {
	text, err := FormatAction(action, args...)
	if err != nil {
		return nil, err
	}

	// action type + text + NUL
	payload := make([]byte, 0, len(text)+2)
	payload = append(payload, ActionExecBuiltin)
	payload = append(payload, text...)
	payload = append(payload, 0)

	return encode(PacketTypeAction, id, payload)
}

// EncodeBye builds a BYE packet telling Kodi to forget the client.
func EncodeBye(id ClientID) []byte {
	b, _ := encode(PacketTypeBye, id, nil)
	return b
}

// EncodePing builds a PING packet that keeps the client registered.
func EncodePing(id ClientID) []byte {
	b, _ := encode(PacketTypePing, id, nil)
	return b
}

func encode(packetType uint16, id ClientID, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit is %d", ErrInvalidArgument, len(payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	copy(buf[0:4], Signature)
	buf[4] = MajorVersion
	buf[5] = MinorVersion
	binary.BigEndian.PutUint16(buf[6:8], packetType)
	binary.BigEndian.PutUint32(buf[8:12], 1)  // sequence number
	binary.BigEndian.PutUint32(buf[12:16], 1) // total packets
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(payload)))
	binary.BigEndian.PutUint32(buf[18:22], uint32(id))
	// buf[22:32] reserved, left zero

	return append(buf, payload...), nil
}

// Decode parses a packet produced by this package (or any single-packet
// event-server message).
func Decode(b []byte) (Packet, error) {
	var p Packet
	if len(b) < HeaderSize {
		return p, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedPacket, len(b))
	}
	if string(b[0:4]) != Signature {
		return p, fmt.Errorf("%w: bad signature %q", ErrMalformedPacket, b[0:4])
	}
	if b[4] != MajorVersion || b[5] != MinorVersion {
		return p, fmt.Errorf("%w: unsupported version %d.%d", ErrMalformedPacket, b[4], b[5])
	}

	size := int(binary.BigEndian.Uint16(b[16:18]))
	if size != len(b)-HeaderSize {
		return p, fmt.Errorf("%w: length field %d, got %d payload bytes", ErrMalformedPacket, size, len(b)-HeaderSize)
	}
	for _, r := range b[22:HeaderSize] {
		if r != 0 {
			return p, fmt.Errorf("%w: reserved bytes are not zero", ErrMalformedPacket)
		}
	}

	p.Type = binary.BigEndian.Uint16(b[6:8])
	p.Seq = binary.BigEndian.Uint32(b[8:12])
	p.Total = binary.BigEndian.Uint32(b[12:16])
	p.ClientID = ClientID(binary.BigEndian.Uint32(b[18:22]))
	p.Payload = append([]byte(nil), b[HeaderSize:]...)
	return p, nil
}
