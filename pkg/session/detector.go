package session

import (
	"time"

	"github.com/voiceline-ai/voiceline/pkg/audio"
)

// Boundary marks a turn-taking transition in the caller's audio.
type Boundary int

const (
	// SpeechStarted opens an utterance.
	SpeechStarted Boundary = iota
	// SpeechEnded seals the current utterance.
	SpeechEnded
)

// String returns a human-readable boundary name.
func (b Boundary) String() string {
	if b == SpeechStarted {
		return "speech_started"
	}
	return "speech_ended"
}

// TurnDetector decides when the caller has started and stopped
// speaking. Boundaries strictly alternate, starting with SpeechStarted.
// Implementations are driven from a single goroutine.
type TurnDetector interface {
	// Process consumes one chunk of caller audio and returns any
	// boundaries it crossed.
	Process(chunk []byte) []Boundary

	// Reset clears detector state between utterance streams.
	Reset()
}

// EnergyDetectorConfig tunes the RMS energy turn detector.
type EnergyDetectorConfig struct {
	// Threshold is the RMS energy above which audio counts as voice.
	// Range 0.0 to 1.0. Default: 0.02.
	Threshold float64 `json:"threshold"`

	// StartLatency is how much sustained voice is required before a
	// SpeechStarted boundary. Default: 100ms.
	StartLatency time.Duration `json:"start_latency"`

	// EndLatency is how much sustained silence is required before a
	// SpeechEnded boundary. Default: 300ms.
	EndLatency time.Duration `json:"end_latency"`
}

// DefaultEnergyDetectorConfig returns the telephony defaults.
func DefaultEnergyDetectorConfig() EnergyDetectorConfig {
	return EnergyDetectorConfig{
		Threshold:    0.02,
		StartLatency: 100 * time.Millisecond,
		EndLatency:   300 * time.Millisecond,
	}
}

// EnergyDetector is a TurnDetector based on RMS energy with start and
// end latencies. Short noise spikes below StartLatency never open an
// utterance; pauses below EndLatency never close one.
type EnergyDetector struct {
	cfg      EnergyDetectorConfig
	audioCfg audio.Config

	inSpeech bool
	voicedMs int
	silentMs int
}

// NewEnergyDetector creates a detector for audio in the given format.
func NewEnergyDetector(cfg EnergyDetectorConfig, audioCfg audio.Config) *EnergyDetector {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.02
	}
	if cfg.StartLatency == 0 {
		cfg.StartLatency = 100 * time.Millisecond
	}
	if cfg.EndLatency == 0 {
		cfg.EndLatency = 300 * time.Millisecond
	}
	return &EnergyDetector{cfg: cfg, audioCfg: audioCfg}
}

// Process consumes one chunk of caller audio.
func (d *EnergyDetector) Process(chunk []byte) []Boundary {
	if len(chunk) == 0 {
		return nil
	}

	var energy float64
	if d.audioCfg.Encoding == audio.EncodingMuLaw {
		energy = audio.MuLawRMSEnergy(chunk)
	} else {
		energy = audio.RMSEnergy(chunk)
	}
	durMs := d.audioCfg.DurationMs(len(chunk))

	var out []Boundary
	if energy >= d.cfg.Threshold {
		d.voicedMs += durMs
		d.silentMs = 0
		if !d.inSpeech && time.Duration(d.voicedMs)*time.Millisecond >= d.cfg.StartLatency {
			d.inSpeech = true
			out = append(out, SpeechStarted)
		}
	} else {
		d.silentMs += durMs
		d.voicedMs = 0
		if d.inSpeech && time.Duration(d.silentMs)*time.Millisecond >= d.cfg.EndLatency {
			d.inSpeech = false
			out = append(out, SpeechEnded)
		}
	}
	return out
}

// Reset clears all detector state.
func (d *EnergyDetector) Reset() {
	d.inSpeech = false
	d.voicedMs = 0
	d.silentMs = 0
}

// InSpeech reports whether an utterance is currently open.
func (d *EnergyDetector) InSpeech() bool {
	return d.inSpeech
}
