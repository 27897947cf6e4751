package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/audio"
)

// 20ms of constant-amplitude caller audio at 8kHz mono mu-law.
func voicedChunk() []byte {
	return bytes.Repeat([]byte{audio.EncodeMuLawSample(8000)}, 160)
}

func silentChunk() []byte {
	return bytes.Repeat([]byte{audio.EncodeMuLawSample(0)}, 160)
}

func newTestDetector() *EnergyDetector {
	return NewEnergyDetector(DefaultEnergyDetectorConfig(), audio.DefaultConfig())
}

func TestEnergyDetectorStartLatency(t *testing.T) {
	d := newTestDetector()

	// 80ms of voice is under the 100ms start latency.
	for i := 0; i < 4; i++ {
		if out := d.Process(voicedChunk()); len(out) != 0 {
			t.Fatalf("chunk %d: unexpected boundaries %v", i, out)
		}
	}
	if d.InSpeech() {
		t.Error("utterance opened before start latency elapsed")
	}

	out := d.Process(voicedChunk())
	if len(out) != 1 || out[0] != SpeechStarted {
		t.Fatalf("expected SpeechStarted at 100ms, got %v", out)
	}
	if !d.InSpeech() {
		t.Error("InSpeech false after SpeechStarted")
	}
}

func TestEnergyDetectorEndLatency(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 5; i++ {
		d.Process(voicedChunk())
	}

	// 280ms of silence is under the 300ms end latency.
	for i := 0; i < 14; i++ {
		if out := d.Process(silentChunk()); len(out) != 0 {
			t.Fatalf("chunk %d: unexpected boundaries %v", i, out)
		}
	}

	out := d.Process(silentChunk())
	if len(out) != 1 || out[0] != SpeechEnded {
		t.Fatalf("expected SpeechEnded at 300ms, got %v", out)
	}
	if d.InSpeech() {
		t.Error("InSpeech true after SpeechEnded")
	}
}

func TestEnergyDetectorNoiseSpikeIgnored(t *testing.T) {
	d := newTestDetector()

	// 40ms spike, then silence: no utterance should open.
	d.Process(voicedChunk())
	d.Process(voicedChunk())
	for i := 0; i < 20; i++ {
		if out := d.Process(silentChunk()); len(out) != 0 {
			t.Fatalf("boundary from noise spike: %v", out)
		}
	}
}

func TestEnergyDetectorShortPauseKeepsTurnOpen(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 5; i++ {
		d.Process(voicedChunk())
	}

	// 100ms pause, then voice resumes: same utterance.
	for i := 0; i < 5; i++ {
		d.Process(silentChunk())
	}
	if out := d.Process(voicedChunk()); len(out) != 0 {
		t.Fatalf("unexpected boundaries after short pause: %v", out)
	}
	if !d.InSpeech() {
		t.Error("utterance closed by a pause shorter than end latency")
	}
}

func TestEnergyDetectorBoundariesAlternate(t *testing.T) {
	d := newTestDetector()

	var all []Boundary
	feed := func(chunk []byte, n int) {
		for i := 0; i < n; i++ {
			all = append(all, d.Process(chunk)...)
		}
	}

	// Two utterances with noise and pauses in between.
	feed(silentChunk(), 10)
	feed(voicedChunk(), 8)
	feed(silentChunk(), 4) // short pause
	feed(voicedChunk(), 6)
	feed(silentChunk(), 20)
	feed(voicedChunk(), 2) // spike
	feed(silentChunk(), 5)
	feed(voicedChunk(), 12)
	feed(silentChunk(), 20)

	if len(all) == 0 {
		t.Fatal("no boundaries emitted")
	}
	for i, b := range all {
		want := SpeechStarted
		if i%2 == 1 {
			want = SpeechEnded
		}
		if b != want {
			t.Fatalf("boundary %d: got %v, want %v (sequence %v)", i, b, want, all)
		}
	}
	if len(all) != 4 {
		t.Errorf("expected 2 utterances (4 boundaries), got %v", all)
	}
}

func TestEnergyDetectorReset(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 5; i++ {
		d.Process(voicedChunk())
	}
	if !d.InSpeech() {
		t.Fatal("expected open utterance")
	}

	d.Reset()
	if d.InSpeech() {
		t.Error("InSpeech true after Reset")
	}

	// Start latency applies from scratch again.
	for i := 0; i < 4; i++ {
		if out := d.Process(voicedChunk()); len(out) != 0 {
			t.Fatalf("boundary before start latency after reset: %v", out)
		}
	}
	if out := d.Process(voicedChunk()); len(out) != 1 || out[0] != SpeechStarted {
		t.Fatalf("expected SpeechStarted, got %v", out)
	}
}

func TestEnergyDetectorConfigDefaults(t *testing.T) {
	d := NewEnergyDetector(EnergyDetectorConfig{}, audio.DefaultConfig())
	if d.cfg.Threshold != 0.02 {
		t.Errorf("Threshold = %v, want 0.02", d.cfg.Threshold)
	}
	if d.cfg.StartLatency != 100*time.Millisecond {
		t.Errorf("StartLatency = %v, want 100ms", d.cfg.StartLatency)
	}
	if d.cfg.EndLatency != 300*time.Millisecond {
		t.Errorf("EndLatency = %v, want 300ms", d.cfg.EndLatency)
	}
}
