package session

import (
	"time"

	"github.com/voiceline-ai/voiceline/pkg/audio"
)

// State is the lifecycle state of a call session.
type State int

const (
	// StateConnecting is the handshake window before media flows.
	StateConnecting State = iota
	// StateActive is normal conversation.
	StateActive
	// StateEnding is teardown: in-flight work cancelled, resources released.
	StateEnding
	// StateClosed is terminal.
	StateClosed
	// StateErrored is the absorbing failure state, reached from Active
	// or Ending. An errored session still proceeds to Ending and Closed
	// for cleanup, but its disposition stays ERROR.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds all configuration for one call session.
type Config struct {
	// CallSID and StreamSID identify the carrier call and media stream.
	CallSID    string `json:"call_sid"`
	StreamSID  string `json:"stream_sid"`
	AccountSID string `json:"account_sid,omitempty"`

	// SystemPrompt seeds the conversation history.
	SystemPrompt string `json:"system_prompt"`

	// Greeting, when set, is synthesized and played as soon as the
	// session goes active. It is spoken only, never committed as a turn.
	Greeting string `json:"greeting,omitempty"`

	// FallbackUtterance is spoken when the session fails fatally, so the
	// caller is never cut off silently. Empty disables it.
	FallbackUtterance string `json:"fallback_utterance,omitempty"`

	// Language is the ISO language code for transcription and synthesis.
	Language string `json:"language,omitempty"`

	// Voice is the synthesis voice identifier.
	Voice string `json:"voice,omitempty"`

	// STTModel overrides the transcription model.
	STTModel string `json:"stt_model,omitempty"`

	// Detector tunes turn detection.
	Detector EnergyDetectorConfig `json:"detector"`

	// Audio is the carrier audio format.
	Audio audio.Config `json:"audio"`

	// ChunkMinWords is how many complete words the response text stream
	// buffers before shipping an unpunctuated piece to synthesis.
	// Default: 5.
	ChunkMinWords int `json:"chunk_min_words"`

	// MaxRetries bounds retries for each external engine operation.
	// Default: 2.
	MaxRetries int `json:"max_retries"`

	// EngineTimeout is the deadline for a single generation.
	// Default: 30s.
	EngineTimeout time.Duration `json:"engine_timeout"`
}

// DefaultConfig returns a Config with telephony defaults.
func DefaultConfig() Config {
	return Config{
		Detector:      DefaultEnergyDetectorConfig(),
		Audio:         audio.DefaultConfig(),
		ChunkMinWords: defaultChunkMinWords,
		MaxRetries:    2,
		EngineTimeout: 30 * time.Second,
	}
}
