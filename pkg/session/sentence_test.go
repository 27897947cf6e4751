package session

import (
	"errors"
	"testing"
)

// collectWriter wires a sentenceWriter to an in-memory sink.
func collectWriter(minWords int) (*sentenceWriter, *[]string, *[]bool) {
	var pieces []string
	var finals []bool
	w := newSentenceWriter(minWords, func(text string, last bool) error {
		pieces = append(pieces, text)
		finals = append(finals, last)
		return nil
	})
	return w, &pieces, &finals
}

func TestSentenceWriterPunctuation(t *testing.T) {
	w, pieces, finals := collectWriter(0)

	if err := w.Write("Hello"); err != nil {
		t.Fatal(err)
	}
	if len(*pieces) != 0 {
		t.Errorf("piece shipped before clause closed: %v", *pieces)
	}
	if err := w.Write(" there."); err != nil {
		t.Fatal(err)
	}
	if len(*pieces) != 1 || (*pieces)[0] != "Hello there." {
		t.Errorf("pieces = %v, want [Hello there.]", *pieces)
	}
	if (*finals)[0] {
		t.Error("mid-stream piece marked last")
	}
}

func TestSentenceWriterPunctuationKeepsRemainder(t *testing.T) {
	w, pieces, finals := collectWriter(0)

	if err := w.Write("Yes. And"); err != nil {
		t.Fatal(err)
	}
	if len(*pieces) != 1 || (*pieces)[0] != "Yes." {
		t.Errorf("pieces = %v, want [Yes.]", *pieces)
	}

	closed, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Error("Finish with a buffered remainder reported nothing shipped")
	}
	if got := (*pieces)[1]; got != "And" {
		t.Errorf("closing piece = %q, want %q", got, "And")
	}
	if !(*finals)[1] {
		t.Error("closing piece not marked last")
	}
}

func TestSentenceWriterWordThreshold(t *testing.T) {
	w, pieces, _ := collectWriter(5)

	if err := w.Write("one two three four five"); err != nil {
		t.Fatal(err)
	}
	if len(*pieces) != 0 {
		t.Errorf("shipped before the fifth word was confirmed: %v", *pieces)
	}
	if err := w.Write(" six"); err != nil {
		t.Fatal(err)
	}
	if len(*pieces) != 1 || (*pieces)[0] != "one two three four five" {
		t.Errorf("pieces = %v", *pieces)
	}

	closed, err := w.Finish()
	if err != nil || !closed {
		t.Fatalf("Finish = (%v, %v)", closed, err)
	}
	if got := (*pieces)[1]; got != "six" {
		t.Errorf("closing piece = %q, want %q", got, "six")
	}
}

func TestSentenceWriterMidTokenNeverShips(t *testing.T) {
	w, pieces, _ := collectWriter(5)

	w.Write("one two three four fi")
	w.Write("ve")
	if len(*pieces) != 0 {
		t.Errorf("mid-token tail shipped: %v", *pieces)
	}
}

func TestSentenceWriterFinishEmpty(t *testing.T) {
	w, _, _ := collectWriter(0)
	closed, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if closed {
		t.Error("empty Finish reported a shipped piece")
	}
	if w.Spoke() {
		t.Error("Spoke() = true with nothing shipped")
	}
}

func TestSentenceWriterDiscard(t *testing.T) {
	w, pieces, _ := collectWriter(0)
	w.Write("half a thought")
	w.Discard()

	closed, err := w.Finish()
	if err != nil || closed {
		t.Fatalf("Finish after Discard = (%v, %v)", closed, err)
	}
	if len(*pieces) != 0 {
		t.Errorf("pieces after Discard = %v", *pieces)
	}
}

func TestSentenceWriterEmptyDelta(t *testing.T) {
	w, pieces, _ := collectWriter(0)
	if err := w.Write(""); err != nil {
		t.Fatal(err)
	}
	if len(*pieces) != 0 {
		t.Errorf("pieces = %v", *pieces)
	}
}

func TestSentenceWriterPropagatesSendError(t *testing.T) {
	sendErr := errors.New("stream gone")
	w := newSentenceWriter(0, func(string, bool) error { return sendErr })

	if err := w.Write("Too late."); !errors.Is(err, sendErr) {
		t.Errorf("Write error = %v, want %v", err, sendErr)
	}
}

func TestSentenceWriterSpoke(t *testing.T) {
	w, _, _ := collectWriter(0)
	if w.Spoke() {
		t.Error("fresh writer reports spoke")
	}
	w.Write("Done.")
	if !w.Spoke() {
		t.Error("Spoke() = false after a piece shipped")
	}
}
