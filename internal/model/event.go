package model

import (
	"encoding/json"
	"time"
)

// FrameType is the type of a frame sent by a dashboard session.
type FrameType string

const (
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
)

// Frame is a join or leave request sent by a dashboard session.
type Frame struct {
	Type        FrameType `json:"type"`
	Area        string    `json:"area"`
	Disposition string    `json:"disposition"`
}

// Wire-level event names that are not lead deliveries.
const (
	EventError     = "error"
	EventHeartbeat = "heartbeat"
	EventConnected = "connected"
)

// WireEvent is an event as serialized to a dashboard session.
type WireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
