// Package events defines the typed event contracts broadcast to live
// observers (the WebSocket tap). Everything crossing that boundary MUST use
// one of these types. No ad-hoc map[string]interface{} events.
package events

import (
	"time"

	"github.com/modelmux/modelmux/pkg/protocol"
)

// Event is the universal envelope for observer events.
type Event struct {
	// Type identifies the event (e.g. "request.completed")
	Type string `json:"type"`

	// Source identifies who emitted the event
	Source string `json:"source"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload
	Data interface{} `json:"data"`
}

// New creates a timestamped event.
func New(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

const (
	// Request lifecycle events
	RequestCreated   = "request.created"
	RequestCompleted = "request.completed"
	RequestFailed    = "request.failed"

	// Agent bus events
	BusPublished = "bus.published"

	// System events
	SystemStarted  = "system.started"
	SystemStopping = "system.stopping"
)

// RequestEventData is the payload for request lifecycle events.
type RequestEventData struct {
	TraceID      string             `json:"trace_id"`
	Provider     protocol.Provider  `json:"provider,omitempty"`
	Model        string             `json:"model,omitempty"`
	Stream       bool               `json:"stream"`
	DurationMS   int64              `json:"duration_ms,omitempty"`
	InputTokens  int64              `json:"input_tokens,omitempty"`
	OutputTokens int64              `json:"output_tokens,omitempty"`
	ErrorKind    protocol.ErrorKind `json:"error_kind,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// BusEventData is the payload for agent bus events.
type BusEventData struct {
	AgentID   string `json:"agent_id"`
	MessageID int64  `json:"message_id"`
}

// SystemEventData is the payload for system lifecycle events.
type SystemEventData struct {
	Addr      string   `json:"addr,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Message   string   `json:"message,omitempty"`
}
