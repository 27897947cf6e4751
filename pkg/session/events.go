package session

// Event is the interface for all session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StartedEvent is emitted when the session reaches the active state.
type StartedEvent struct {
	CallSID   string `json:"call_sid"`
	StreamSID string `json:"stream_sid"`
}

func (e *StartedEvent) EventType() string { return "session.started" }

// StateChangedEvent is emitted on every lifecycle transition.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// SpeechStartedEvent is emitted when the detector opens an utterance.
type SpeechStartedEvent struct{}

func (e *SpeechStartedEvent) EventType() string { return "speech.started" }

// SpeechEndedEvent is emitted when the detector seals an utterance.
type SpeechEndedEvent struct{}

func (e *SpeechEndedEvent) EventType() string { return "speech.ended" }

// TranscriptEvent is emitted as transcription results arrive.
type TranscriptEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

func (e *TranscriptEvent) EventType() string { return "transcript" }

// TurnCommittedEvent is emitted when a user turn enters the history.
type TurnCommittedEvent struct {
	Text string `json:"text"`
}

func (e *TurnCommittedEvent) EventType() string { return "turn.committed" }

// ResponseDeltaEvent is emitted for each response text delta.
type ResponseDeltaEvent struct {
	Delta string `json:"delta"`
}

func (e *ResponseDeltaEvent) EventType() string { return "response.delta" }

// ResponseDoneEvent is emitted when a full response has been committed.
type ResponseDoneEvent struct {
	Text string `json:"text"`
}

func (e *ResponseDoneEvent) EventType() string { return "response.done" }

// ResponseInterruptedEvent is emitted on barge-in. The partial text was
// discarded and never committed to the history.
type ResponseInterruptedEvent struct {
	PartialText string `json:"partial_text,omitempty"`
}

func (e *ResponseInterruptedEvent) EventType() string { return "response.interrupted" }

// DTMFEvent is emitted when the caller presses a keypad digit.
type DTMFEvent struct {
	Digit string `json:"digit"`
}

func (e *DTMFEvent) EventType() string { return "dtmf" }

// MarkEvent is emitted when the carrier confirms a playback checkpoint.
type MarkEvent struct {
	Name string `json:"name"`
}

func (e *MarkEvent) EventType() string { return "mark" }

// ErrorEvent is emitted when an error occurs.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// ClosedEvent is emitted when the session ends.
type ClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *ClosedEvent) EventType() string { return "session.closed" }
