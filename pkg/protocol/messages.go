package protocol

import "time"

// Registration is published on SubjectRegistry when an agent starts.
type Registration struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Commands     []string `json:"commands"`
}

// Heartbeat is published on SubjectHeartbeat every 30s.
type Heartbeat struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	LastEvent time.Time `json:"last_event"`
	Events    int64     `json:"events"`
	Commands  int64     `json:"commands"`
	Errors    int64     `json:"errors"`
}
