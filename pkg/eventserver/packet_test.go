package eventserver

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"
)

const testClientID ClientID = 0x6712A0F3

func TestEncodeAction_Stop(t *testing.T) {
	b, err := EncodeAction(testClientID, "Stop")
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	if len(b) != 38 {
		t.Fatalf("len = %d, want 38", len(b))
	}

	want := []byte{ActionExecBuiltin, 'S', 't', 'o', 'p', 0}
	if !bytes.Equal(b[HeaderSize:], want) {
		t.Errorf("payload = %q, want %q", b[HeaderSize:], want)
	}
	if n := binary.BigEndian.Uint16(b[16:18]); n != 6 {
		t.Errorf("payload length field = %d, want 6", n)
	}
}

func TestEncodeAction_HeaderFields(t *testing.T) {
	b, err := EncodeAction(testClientID, "TakeScreenshot", "/tmp/x.png")
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	if string(b[0:4]) != "XBMC" {
		t.Errorf("signature = %q, want XBMC", b[0:4])
	}
	if b[4] != 0x02 || b[5] != 0x00 {
		t.Errorf("version = %#x %#x, want 0x02 0x00", b[4], b[5])
	}
	if got := binary.BigEndian.Uint16(b[6:8]); got != 0x000A {
		t.Errorf("packet type = %#04x, want 0x000a", got)
	}
	if got := binary.BigEndian.Uint32(b[8:12]); got != 1 {
		t.Errorf("sequence = %d, want 1", got)
	}
	if got := binary.BigEndian.Uint32(b[12:16]); got != 1 {
		t.Errorf("total packets = %d, want 1", got)
	}
	if got := binary.BigEndian.Uint16(b[16:18]); int(got) != len(b)-HeaderSize {
		t.Errorf("length field = %d, want %d", got, len(b)-HeaderSize)
	}
	if got := ClientID(binary.BigEndian.Uint32(b[18:22])); got != testClientID {
		t.Errorf("client id = %#x, want %#x", got, testClientID)
	}
	if !bytes.Equal(b[22:32], make([]byte, 10)) {
		t.Errorf("reserved = %v, want 10 zero bytes", b[22:32])
	}
}

func TestEncodeAction_LengthFieldMatchesPayload(t *testing.T) {
	cases := [][]string{
		{"Stop"},
		{"TakeScreenshot", "/var/data/userdata/screencast/image3.png"},
		{"Notification", "Title", "Body with \"quotes\"", "5000"},
		{"ActivateWindow", "ünïcødé ✓"},
		{"Skin.SetString", ""},
	}
	for _, c := range cases {
		t.Run(c[0], func(t *testing.T) {
			b, err := EncodeAction(testClientID, c[0], c[1:]...)
			if err != nil {
				t.Fatalf("EncodeAction: %v", err)
			}
			n := binary.BigEndian.Uint16(b[16:18])
			if int(n) != len(b)-HeaderSize {
				t.Errorf("length field = %d, trailing bytes = %d", n, len(b)-HeaderSize)
			}
		})
	}
}

func TestFormatAction(t *testing.T) {
	tests := []struct {
		action string
		args   []string
		want   string
	}{
		{"Stop", nil, "Stop"},
		{"TakeScreenshot", []string{`/tmp/a"b.png`}, `TakeScreenshot("/tmp/a\"b.png")`},
		{"Notification", []string{"a", "b"}, `Notification("a","b")`},
		{"Skin.Reset", []string{""}, `Skin.Reset("")`},
		{"X", []string{`""`}, `X("\"\"")`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := FormatAction(tt.action, tt.args...)
			if err != nil {
				t.Fatalf("FormatAction: %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatAction = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeAction_EscapedArgumentPayload(t *testing.T) {
	b, err := EncodeAction(testClientID, "TakeScreenshot", `/tmp/a"b.png`)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	want := append([]byte{ActionExecBuiltin}, []byte(`TakeScreenshot("/tmp/a\"b.png")`+"\x00")...)
	if !bytes.Equal(b[HeaderSize:], want) {
		t.Errorf("payload = %q, want %q", b[HeaderSize:], want)
	}
}

func TestEncodeAction_Idempotent(t *testing.T) {
	a, err := EncodeAction(testClientID, "TakeScreenshot", "/tmp/1.png")
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeAction(testClientID, "TakeScreenshot", "/tmp/1.png")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding the same action twice produced different packets")
	}
}

func TestEncodeAction_InvalidArgument(t *testing.T) {
	tests := []struct {
		name   string
		action string
		args   []string
	}{
		{"empty action", "", nil},
		{"invalid utf8 action", "Stop\xff", nil},
		{"invalid utf8 arg", "TakeScreenshot", []string{"/tmp/\xc3\x28.png"}},
		{"payload too large", "TakeScreenshot", []string{strings.Repeat("x", MaxPayloadSize)}},
		{"nul in action", "Sto\x00p", nil},
		{"nul in arg", "TakeScreenshot", []string{"/tmp/a\x00.png"}},
		{"open paren in action", "Foo(bar", nil},
		{"close paren in action", "Foo)", nil},
		{"quote in action", `Foo"`, nil},
		{"trailing backslash", "PlayMedia", []string{`C:\media\`}},
		{"trailing backslash before next arg", "X", []string{`a\`, "b"}},
		{"double trailing backslash", "X", []string{`a\\`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeAction(testClientID, tt.action, tt.args...)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestEncodeAction_LargestPayload(t *testing.T) {
	// tag + "A" + NUL leaves MaxPayloadSize-3 bytes for the name suffix.
	name := "A" + strings.Repeat("b", MaxPayloadSize-3)
	b, err := EncodeAction(testClientID, name)
	if err != nil {
		t.Fatalf("EncodeAction at the limit: %v", err)
	}
	if n := binary.BigEndian.Uint16(b[16:18]); n != MaxPayloadSize {
		t.Errorf("length field = %d, want %d", n, MaxPayloadSize)
	}

	if _, err := EncodeAction(testClientID, name+"c"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("one byte over the limit: err = %v, want ErrInvalidArgument", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		action string
		args   []string
	}{
		{"Stop", nil},
		{"TakeScreenshot", []string{`/tmp/a"b.png`}},
		{"Notification", []string{"Hello", `say "hi"`, "5000"}},
		{"PlayMedia", []string{`C:\media\movie.mkv`}},
		{"Skin.SetString", []string{"", "a,b", "(x)"}},
		{"ActivateWindow", []string{"ünïcødé ✓"}},
		{"Escapes", []string{`a\"b`, `\\"`, `x\\\"y`, `\x`}},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			b, err := EncodeAction(testClientID, tt.action, tt.args...)
			if err != nil {
				t.Fatalf("EncodeAction: %v", err)
			}

			p, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.Type != PacketTypeAction || p.Seq != 1 || p.Total != 1 {
				t.Errorf("header = type %d seq %d total %d", p.Type, p.Seq, p.Total)
			}
			if p.ClientID != testClientID {
				t.Errorf("client id = %#x, want %#x", p.ClientID, testClientID)
			}

			a, err := ParseAction(p.Payload)
			if err != nil {
				t.Fatalf("ParseAction: %v", err)
			}
			if a.Type != ActionExecBuiltin {
				t.Errorf("action type = %#x, want %#x", a.Type, ActionExecBuiltin)
			}
			if a.Name != tt.action {
				t.Errorf("name = %q, want %q", a.Name, tt.action)
			}
			if len(a.Args) != len(tt.args) {
				t.Fatalf("args = %q, want %q", a.Args, tt.args)
			}
			for i := range tt.args {
				if a.Args[i] != tt.args[i] {
					t.Errorf("arg %d = %q, want %q", i, a.Args[i], tt.args[i])
				}
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	good, err := EncodeAction(testClientID, "Stop")
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	tests := map[string][]byte{
		"short":          good[:20],
		"bad signature":  mutate(func(b []byte) []byte { b[0] = 'Y'; return b }),
		"bad version":    mutate(func(b []byte) []byte { b[4] = 3; return b }),
		"length too big": mutate(func(b []byte) []byte { b[17]++; return b }),
		"truncated":      good[:len(good)-1],
		"reserved set":   mutate(func(b []byte) []byte { b[25] = 1; return b }),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(b); !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("err = %v, want ErrMalformedPacket", err)
			}
		})
	}
}

func TestParseAction_Malformed(t *testing.T) {
	tests := map[string]string{
		"no terminator":    "\x01Stop",
		"unclosed list":    "\x01X(\"a\"\x00",
		"unquoted arg":     "\x01X(a)\x00",
		"unterminated arg": "\x01X(\"a)\x00",
		"missing comma":    "\x01X(\"a\"\"b\")\x00",
		"embedded nul":     "\x01St\x00op\x00",
		"empty":            "\x01",
		"unknown type":     "\x07Stop\x00",
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseAction([]byte(payload)); !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("err = %v, want ErrMalformedPacket", err)
			}
		})
	}
}

func TestParseAction_Button(t *testing.T) {
	a, err := ParseAction([]byte("\x02Select\x00"))
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.Type != ActionButton || a.Name != "Select" || len(a.Args) != 0 {
		t.Errorf("action = %+v", a)
	}
}

func TestEncodeByeAndPing(t *testing.T) {
	for _, tt := range []struct {
		name string
		b    []byte
		typ  uint16
	}{
		{"bye", EncodeBye(testClientID), PacketTypeBye},
		{"ping", EncodePing(testClientID), PacketTypePing},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.b) != HeaderSize {
				t.Fatalf("len = %d, want %d", len(tt.b), HeaderSize)
			}
			p, err := Decode(tt.b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.Type != tt.typ {
				t.Errorf("type = %d, want %d", p.Type, tt.typ)
			}
			if len(p.Payload) != 0 {
				t.Errorf("payload = %q, want empty", p.Payload)
			}
		})
	}
}

func TestEncoder_OnePacketPerWrite(t *testing.T) {
	w := &recordingWriter{}
	enc := NewEncoder(w, testClientID)

	if err := enc.EncodeAction("TakeScreenshot", "/tmp/0.png"); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeBye(); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeAction(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}

	if len(w.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(w.writes))
	}
	want, _ := EncodeAction(testClientID, "TakeScreenshot", "/tmp/0.png")
	if !bytes.Equal(w.writes[0], want) {
		t.Error("first write is not the encoded action packet")
	}
}

func TestNewClientID(t *testing.T) {
	ts := time.Unix(1735689600, 0)
	if got := NewClientID(ts); got != ClientID(1735689600) {
		t.Errorf("NewClientID = %d, want 1735689600", got)
	}
}

type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}
