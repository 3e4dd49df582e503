// Package types provides the JSON shapes shared by the web handlers and their clients.
package types

import (
	"time"

	"squadstream/events"
	"squadstream/output"
)

// BufferSummary describes one output buffer.
type BufferSummary struct {
	Key       string `json:"key"`
	Entries   int    `json:"entries"`
	Chars     int    `json:"chars"`
	Truncated bool   `json:"truncated"`
}

// BufferEntry is one entry of a buffer snapshot.
type BufferEntry struct {
	Kind    string `json:"kind"`
	Data    string `json:"data,omitempty"`
	Command string `json:"command,omitempty"`
}

// BufferDetail is a snapshot of one buffer.
type BufferDetail struct {
	Key       string        `json:"key"`
	Truncated bool          `json:"truncated"`
	Entries   []BufferEntry `json:"entries"`
}

// NewBufferEntries converts buffer entries to their wire form.
func NewBufferEntries(entries []output.Entry) []BufferEntry {
	wire := make([]BufferEntry, len(entries))
	for i, e := range entries {
		wire[i] = BufferEntry{Kind: e.Kind.String(), Data: e.Data, Command: e.Command}
	}
	return wire
}

// Process describes a live supervised process.
type Process struct {
	Key       string    `json:"key"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Terminal  bool      `json:"terminal"`
	Cols      int       `json:"cols,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Message types sent on the events websocket.
const (
	MessageSnapshot = "snapshot"
	MessageEvents   = "events"
	MessageError    = "error"
)

// ServerMessage is written to websocket clients. Exactly one of the optional fields is set,
// according to Type.
type ServerMessage struct {
	Type     string         `json:"type"`
	Events   []events.Event `json:"events,omitempty"`
	Snapshot *BufferDetail  `json:"snapshot,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Input types accepted from read-write websocket clients.
const (
	InputData   = "input"
	InputResize = "resize"
)

// ClientMessage is sent by read-write clients to drive the terminal of the subscribed key.
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}
