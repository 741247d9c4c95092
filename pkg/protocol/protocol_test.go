package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSubjects(t *testing.T) {
	tests := []struct{ got, want string }{
		{SubjectRegistry, "kodiview.registry"},
		{SubjectEvents("kodi"), "kodiview.events.kodi"},
		{SubjectCommands("kodiview"), "kodiview.commands.kodiview"},
		{SubjectHeartbeat("kodiview"), "kodiview.heartbeat.kodiview"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("subject = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(EventScreenshotCaptured, "kodi", ScreenshotCaptured{Seq: 4, Path: "/a.png", Width: 640}.Payload())
	if !strings.HasPrefix(ev.ID, "evt_") {
		t.Errorf("ID = %q, want evt_ prefix", ev.ID)
	}
	if ev.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
	if ev.Payload["seq"] != uint64(4) || ev.Payload["path"] != "/a.png" || ev.Payload["width"] != 640 {
		t.Errorf("payload = %v", ev.Payload)
	}
	if other := NewEvent("x", "y", nil); other.ID == ev.ID {
		t.Error("event IDs should be unique")
	}
}

func TestSendActionArgs(t *testing.T) {
	cmd := NewSendAction("test", "PlayMedia", `/m/a"b.mkv`, "resume")
	data, _ := json.Marshal(cmd)
	var decoded Command
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	action, args, err := SendActionArgs(decoded.Payload)
	if err != nil {
		t.Fatalf("SendActionArgs: %v", err)
	}
	if action != "PlayMedia" || len(args) != 2 || args[0] != `/m/a"b.mkv` || args[1] != "resume" {
		t.Errorf("got (%q, %q)", action, args)
	}
}

func TestSendActionArgs_Errors(t *testing.T) {
	tests := map[string]map[string]any{
		"no action":       {},
		"empty action":    {"action": ""},
		"args not a list": {"action": "Stop", "args": "x"},
		"non-string arg":  {"action": "Stop", "args": []any{"a", 3.0}},
	}
	for name, payload := range tests {
		if _, _, err := SendActionArgs(payload); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	action, args, err := SendActionArgs(map[string]any{"action": "Stop"})
	if err != nil || action != "Stop" || args != nil {
		t.Errorf("no args: got (%q, %v, %v)", action, args, err)
	}
}
