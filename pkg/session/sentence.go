package session

import "strings"

// clauseMarks are the punctuation characters that close a speakable
// clause.
const clauseMarks = ".,!?;:"

// defaultChunkMinWords is the word threshold for shipping unpunctuated
// text to synthesis.
const defaultChunkMinWords = 5

// sentenceWriter slices a streamed response into pieces the synthesizer
// can start speaking immediately. A piece ships as soon as punctuation
// closes a clause, or once enough complete words have accumulated
// without any. The tail of the buffer may still be mid-token, so it
// only ships on Finish. Used from the single goroutine driving one
// generation.
type sentenceWriter struct {
	send     func(text string, last bool) error
	minWords int
	buf      []byte
	sent     bool
}

func newSentenceWriter(minWords int, send func(text string, last bool) error) *sentenceWriter {
	if minWords <= 0 {
		minWords = defaultChunkMinWords
	}
	return &sentenceWriter{send: send, minWords: minWords}
}

// Write buffers one delta and ships every speakable piece it completes.
func (w *sentenceWriter) Write(delta string) error {
	if delta == "" {
		return nil
	}
	w.buf = append(w.buf, delta...)
	for {
		cut := w.cut()
		if cut <= 0 {
			return nil
		}
		piece := strings.TrimSpace(string(w.buf[:cut]))
		w.buf = append(w.buf[:0], w.buf[cut:]...)
		if piece == "" {
			continue
		}
		w.sent = true
		if err := w.send(piece, false); err != nil {
			return err
		}
	}
}

// cut returns the offset to slice the buffer at, or 0 to keep waiting.
func (w *sentenceWriter) cut() int {
	s := string(w.buf)
	if i := strings.LastIndexAny(s, clauseMarks); i >= 0 {
		return i + 1
	}
	// Without punctuation, wait until minWords words are confirmed
	// complete. Only a space proves the word before it is finished.
	i := strings.LastIndexByte(s, ' ')
	if i > 0 && len(strings.Fields(s[:i])) >= w.minWords {
		return i
	}
	return 0
}

// Finish ships whatever is still buffered as the closing piece. It
// reports false when nothing remained, so the caller can close the
// synthesis stream by other means.
func (w *sentenceWriter) Finish() (bool, error) {
	rest := strings.TrimSpace(string(w.buf))
	w.buf = w.buf[:0]
	if rest == "" {
		return false, nil
	}
	w.sent = true
	return true, w.send(rest, true)
}

// Discard drops buffered text after a failed or cancelled generation.
func (w *sentenceWriter) Discard() {
	w.buf = w.buf[:0]
}

// Spoke reports whether any piece reached the synthesizer.
func (w *sentenceWriter) Spoke() bool { return w.sent }
