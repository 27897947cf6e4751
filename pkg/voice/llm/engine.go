// Package llm provides streaming response generation for the call agent.
package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrGenerationFailed reports that the response backend failed or could
// not be reached. A cancelled generation is not a failure and is never
// wrapped in this error.
var ErrGenerationFailed = errors.New("generation failed")

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation context handed to the engine.
type Message struct {
	Role    Role
	Content string
}

// Engine is the interface for streaming response generators.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Generate starts a streaming completion over the conversation
	// snapshot. Cancelling ctx aborts generation; deltas already
	// emitted stay emitted, no more follow.
	Generate(ctx context.Context, msgs []Message) (*TextStream, error)
}

// TextStream delivers response text incrementally.
type TextStream struct {
	deltas    chan string
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewTextStream creates a stream shell for an engine implementation.
func NewTextStream() *TextStream {
	return &TextStream{
		deltas: make(chan string, 32),
		done:   make(chan struct{}),
	}
}

// Deltas returns the channel of text deltas. Closed on completion,
// error, or cancellation.
func (s *TextStream) Deltas() <-chan string {
	return s.deltas
}

// Err returns the terminal error, if any. Valid after Deltas closes.
func (s *TextStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close abandons the stream. Safe to call at any time.
func (s *TextStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Done returns a channel that's closed when the stream is abandoned.
func (s *TextStream) Done() <-chan struct{} {
	return s.done
}

// Internal methods for implementations

// Push delivers a delta. Returns false if the stream was abandoned.
func (s *TextStream) Push(delta string) bool {
	select {
	case s.deltas <- delta:
		return true
	case <-s.done:
		return false
	}
}

// SetError records the terminal error.
func (s *TextStream) SetError(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Finish closes the delta channel.
func (s *TextStream) Finish() {
	close(s.deltas)
}

// Collect drains the stream into a single string, stopping on ctx
// cancellation. Returns whatever was received along with the stream's
// terminal error.
func Collect(ctx context.Context, s *TextStream) (string, error) {
	var out string
	for {
		select {
		case delta, ok := <-s.Deltas():
			if !ok {
				return out, s.Err()
			}
			out += delta
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
