// Package stt provides streaming speech-to-text for live call audio.
package stt

import (
	"context"
	"errors"
)

// ErrTranscriptionUnavailable reports that the transcription backend
// could not be reached or kept failing past the retry budget. The
// session treats it as fatal.
var ErrTranscriptionUnavailable = errors.New("transcription unavailable")

// Provider is the interface for streaming speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a streaming transcription session. Audio is sent
	// incrementally via SendAudio and results received via Results.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is a live transcription session for one call.
type Stream interface {
	// SendAudio sends raw audio in the format given at stream creation.
	SendAudio(data []byte) error

	// Finalize flushes buffered audio and forces a final result for the
	// current utterance. The stream stays open for the next utterance.
	Finalize() error

	// Results returns the channel of transcription results. Closed when
	// the stream ends.
	Results() <-chan Result

	// Done returns a channel that's closed when the stream ends.
	Done() <-chan struct{}

	// Close tears the stream down.
	Close() error
}

// StreamOptions configures a transcription stream.
type StreamOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code (default: "en")
	Encoding   string // Audio encoding on the wire (default: "mulaw")
	SampleRate int    // Audio sample rate in Hz (default: 8000)
	Channels   int    // Audio channels (default: 1)

	// MaxRetries bounds connect retries before the stream is declared
	// unavailable. Zero means a single attempt.
	MaxRetries int

	// Interim enables partial (non-final) results. Partials are
	// best-effort hints; exactly one final result closes each utterance.
	Interim bool
}

// Result is one transcription update. Text for a partial result may be
// revised by later results; a final result is authoritative for the
// utterance span it covers.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}
