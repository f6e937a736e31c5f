package model

import (
	"encoding/json"
)

// EventType is the value of the "type" field of a stream frame.
type EventType string

const (
	EventTypeDelta            EventType = "delta"
	EventTypeUsage            EventType = "usage"
	EventTypeDone             EventType = "done"
	EventTypeError            EventType = "error"
	EventTypeCompressed       EventType = "compressed"
	EventTypeMemorySuggestion EventType = "memory_suggestion"
)

const (
	// DefaultErrorMessage is reported when an error frame or transport failure carries no message.
	DefaultErrorMessage = "generation failed, please try again"
	// NoResponseMessage is reported when the transport has no readable body.
	NoResponseMessage = "no response from server"
)

// StreamEvent is one decoded stream frame. The concrete types below are the
// only implementations.
type StreamEvent interface {
	Type() EventType
	streamEvent()
}

// DeltaEvent carries an incremental fragment of generated text.
type DeltaEvent struct {
	Content string `json:"content"`
}

// UsageEvent carries metering metadata for the in-progress generation.
type UsageEvent struct {
	Model    string   `json:"model,omitempty"`
	CoinCost *float64 `json:"coinCost,omitempty"`

	// Raw is the whole frame object as received.
	Raw json.RawMessage `json:"-"`
}

// DoneEvent terminates a stream successfully.
type DoneEvent struct{}

// ErrorEvent terminates a stream with a failure.
type ErrorEvent struct {
	Message string `json:"message,omitempty"`
}

// CompressedEvent notes that the backend compacted the conversation history.
type CompressedEvent struct{}

// MemorySuggestionEvent proposes a fact for the user's long-term memory.
type MemorySuggestionEvent struct {
	Content string `json:"content"`
}

func (DeltaEvent) Type() EventType            { return EventTypeDelta }
func (UsageEvent) Type() EventType            { return EventTypeUsage }
func (DoneEvent) Type() EventType             { return EventTypeDone }
func (ErrorEvent) Type() EventType            { return EventTypeError }
func (CompressedEvent) Type() EventType       { return EventTypeCompressed }
func (MemorySuggestionEvent) Type() EventType { return EventTypeMemorySuggestion }

func (DeltaEvent) streamEvent()            {}
func (UsageEvent) streamEvent()            {}
func (DoneEvent) streamEvent()             {}
func (ErrorEvent) streamEvent()            {}
func (CompressedEvent) streamEvent()       {}
func (MemorySuggestionEvent) streamEvent() {}

// IsTerminal reports whether ev ends its stream.
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// Frame is the wire shape of a stream frame. Encoders build it from a
// StreamEvent; decoders read "type" first and then the event body.
type Frame struct {
	Type     EventType `json:"type"`
	Content  string    `json:"content,omitempty"`
	Model    string    `json:"model,omitempty"`
	CoinCost *float64  `json:"coinCost,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// FrameOf converts an event into its wire shape.
func FrameOf(ev StreamEvent) Frame {
	switch e := ev.(type) {
	case DeltaEvent:
		return Frame{Type: EventTypeDelta, Content: e.Content}
	case UsageEvent:
		return Frame{Type: EventTypeUsage, Model: e.Model, CoinCost: e.CoinCost}
	case DoneEvent:
		return Frame{Type: EventTypeDone}
	case ErrorEvent:
		return Frame{Type: EventTypeError, Message: e.Message}
	case CompressedEvent:
		return Frame{Type: EventTypeCompressed}
	case MemorySuggestionEvent:
		return Frame{Type: EventTypeMemorySuggestion, Content: e.Content}
	default:
		return Frame{Type: ev.Type()}
	}
}

// Cost returns a pointer to c, for building usage frames.
func Cost(c float64) *float64 {
	return &c
}
