package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/voice/llm"
)

// Turn is one committed conversation turn.
type Turn struct {
	Role llm.Role
	Text string
	At   time.Time
}

// History is the conversation state for one call. The role sequence is
// always system (user assistant?)*: exactly one leading system turn,
// then users and assistants strictly alternating, with at most one
// trailing unanswered user turn. Consecutive caller utterances coalesce
// into that trailing turn rather than breaking the pattern.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// NewHistory creates a history seeded with the system prompt turn.
func NewHistory(systemPrompt string) *History {
	return &History{
		turns: []Turn{{Role: llm.RoleSystem, Text: systemPrompt, At: time.Now()}},
	}
}

// CommitUser commits a caller utterance. When the previous user turn
// is still unanswered, the caller simply kept talking (after a
// barge-in, or because the backend split one long utterance across
// several final transcripts), so the text coalesces into that open
// turn instead of starting a new one. Reports whether it merged.
func (h *History) CommitUser(text string) (merged bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	last := &h.turns[len(h.turns)-1]
	if last.Role == llm.RoleUser {
		last.Text += " " + text
		last.At = time.Now()
		return true
	}
	h.turns = append(h.turns, Turn{Role: llm.RoleUser, Text: text, At: time.Now()})
	return false
}

// Append commits a turn. Appends that would break the role pattern
// return ErrInvalidTurnSequence and leave the history unchanged.
// Caller utterances go through CommitUser; an invalid sequence here
// indicates a pipeline bug, not bad input.
func (h *History) Append(role llm.Role, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	last := h.turns[len(h.turns)-1].Role

	switch role {
	case llm.RoleUser:
		if last == llm.RoleUser {
			return fmt.Errorf("%w: user turn after unanswered user turn", ErrInvalidTurnSequence)
		}
	case llm.RoleAssistant:
		if last != llm.RoleUser {
			return fmt.Errorf("%w: assistant turn after %s turn", ErrInvalidTurnSequence, last)
		}
	default:
		return fmt.Errorf("%w: cannot append %s turn", ErrInvalidTurnSequence, role)
	}

	h.turns = append(h.turns, Turn{Role: role, Text: text, At: time.Now()})
	return nil
}

// Snapshot returns an immutable copy of the committed turns. Later
// appends never mutate a snapshot already handed out.
func (h *History) Snapshot() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Messages returns the history as engine messages.
func (h *History) Messages() []llm.Message {
	turns := h.Snapshot()
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		out[i] = llm.Message{Role: t.Role, Content: t.Text}
	}
	return out
}

// Len returns the number of committed turns, including the system turn.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
