// Package protocol defines the call lifecycle messages exchanged on the bus
// and recorded in the call timeline.
package protocol

import (
	"strings"
	"time"
)

// Call event types.
const (
	EventCallStarted = "call.started"
	EventTurn        = "call.turn"
	EventTurnDropped = "call.turn_dropped"
	EventHandoff     = "call.handoff"
	EventLanguage    = "call.language"
	EventCallEnded   = "call.ended"
)

// SubjectHandoff carries HandoffRequest payloads, relative to the bus subject
// prefix.
const SubjectHandoff = "call.handoff"

// CallEvent is one step of a call's lifecycle.
type CallEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	CallSID    string    `json:"call_sid,omitempty"`
	StreamSID  string    `json:"stream_sid,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Turn       int       `json:"turn,omitempty"`
	Language   string    `json:"language,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Corrected  string    `json:"corrected,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Subject is the bus subject the event is published on, relative to the
// subject prefix.
func (e CallEvent) Subject() string {
	return "call.events." + strings.TrimPrefix(e.Type, "call.")
}

// HandoffRequest asks a human agent to take over a live call.
type HandoffRequest struct {
	SessionID string    `json:"session_id"`
	CallSID   string    `json:"call_sid"`
	Phone     string    `json:"phone"`
	DriverID  string    `json:"driver_id,omitempty"`
	Language  string    `json:"language"`
	Turn      int       `json:"turn"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
