// Package tts provides streaming text-to-speech for live call audio.
package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSynthesisFailed reports that the synthesis backend could not be
// reached or failed mid-stream past the retry budget.
var ErrSynthesisFailed = errors.New("synthesis failed")

// ErrContextClosed is returned when sending to a closed context.
var ErrContextClosed = errors.New("streaming context closed")

// Provider is the interface for streaming text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingContext opens an incremental synthesis session.
	// Text is sent in chunks via SendText and audio streamed back as
	// it is generated.
	NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error)
}

// StreamingContextOptions configures a streaming synthesis session.
type StreamingContextOptions struct {
	Voice        string // Voice identifier
	Model        string // Provider-specific model
	Language     string // Language code
	OutputFormat string // Audio output format (default: "ulaw_8000")
}

// StreamingContext manages an incremental TTS session. Text is sent in
// chunks via SendText; audio chunks are received via Audio. Closing the
// context mid-stream discards audio that was buffered but not yet
// delivered, which is what barge-in needs.
type StreamingContext struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// For implementations to use
	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates a new streaming context shell for a
// provider implementation to wire up.
func NewStreamingContext() *StreamingContext {
	return &StreamingContext{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// SendText sends a text chunk to be synthesized.
// Set isFinal=true for the last chunk to signal completion.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent and generation should complete.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of audio chunks.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Err returns any error that occurred.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Close closes the streaming context. Audio not yet read from Audio()
// is dropped.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// Done returns a channel that's closed when the context is done.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// Internal methods for implementations

// PushAudio sends an audio chunk. Returns false if closed.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// SetError sets the context error.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	sc.err = err
	sc.errMu.Unlock()
}

// FinishAudio closes the audio channel.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}

// Synthesize runs one complete utterance through a streaming context
// and collects the audio. Used for short canned utterances like the
// greeting and the failure apology.
func Synthesize(ctx context.Context, p Provider, text string, opts StreamingContextOptions) ([]byte, error) {
	sc, err := p.NewStreamingContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	if err := sc.SendText(text, true); err != nil {
		return nil, err
	}

	var out []byte
	for {
		select {
		case chunk, ok := <-sc.Audio():
			if !ok {
				if err := sc.Err(); err != nil {
					return nil, err
				}
				return out, nil
			}
			out = append(out, chunk...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
