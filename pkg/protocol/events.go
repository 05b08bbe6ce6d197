package protocol

// EventType names one phase of the canonical response lifecycle. The names
// double as SSE event names on the wire.
type EventType string

const (
	EventCreated   EventType = "response.created"
	EventDelta     EventType = "response.output_text.delta"
	EventCompleted EventType = "response.completed"
	EventFailed    EventType = "response.failed"
)

// Event is the canonical lifecycle event. Events for one request form a
// total order by SequenceNo: exactly one Created first, zero or more Delta,
// exactly one terminal Completed or Failed last. Every event carries the
// request's trace id.
type Event struct {
	Type         EventType `json:"type"`
	SequenceNo   int       `json:"sequence_no"`
	TraceID      string    `json:"trace_id"`
	ResponseID   string    `json:"response_id,omitempty"`
	Provider     Provider  `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	TextFragment string    `json:"text_fragment,omitempty"`
	FinalText    string    `json:"final_text,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}
