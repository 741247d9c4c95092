package protocol

import (
	"time"

	"github.com/google/uuid"
)

// EventScreenshotCaptured is emitted for every frame downloaded from Kodi.
const EventScreenshotCaptured = "kodi.screenshot.captured"

// Event is the envelope published on SubjectEvents.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent creates an Event with a generated ID and the current time.
func NewEvent(eventType, source string, payload map[string]any) Event {
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// ScreenshotCaptured is the payload of an EventScreenshotCaptured event.
type ScreenshotCaptured struct {
	Seq      uint64
	Path     string
	URL      string
	Bytes    int
	Width    int
	Height   int
	Changed  bool
	Distance int
}

// Payload flattens s into an event payload.
func (s ScreenshotCaptured) Payload() map[string]any {
	return map[string]any{
		"seq":      s.Seq,
		"path":     s.Path,
		"url":      s.URL,
		"bytes":    s.Bytes,
		"width":    s.Width,
		"height":   s.Height,
		"changed":  s.Changed,
		"distance": s.Distance,
	}
}
