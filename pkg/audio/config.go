package audio

// Encoding identifies the byte-level audio format of a chunk.
type Encoding string

const (
	// EncodingMuLaw is 8-bit G.711 mu-law, the telephone carrier format.
	EncodingMuLaw Encoding = "audio/x-mulaw"
	// EncodingPCM16 is 16-bit signed little-endian linear PCM.
	EncodingPCM16 Encoding = "audio/l16"
)

// BytesPerSample returns the size of one sample in this encoding.
func (e Encoding) BytesPerSample() int {
	if e == EncodingMuLaw {
		return 1
	}
	return 2
}

// Config specifies audio format parameters for a stream.
type Config struct {
	// SampleRate in Hz. Telephony streams run at 8000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// Encoding is the sample format on the wire.
	Encoding Encoding `json:"encoding"`
}

// DefaultConfig returns the telephone-carrier audio configuration:
// 8 kHz mono mu-law.
func DefaultConfig() Config {
	return Config{
		SampleRate: 8000,
		Channels:   1,
		Encoding:   EncodingMuLaw,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.Encoding.BytesPerSample()
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// Chunk is one unit of audio moving through the pipeline. Chunks are
// immutable after production; Seq preserves per-direction ordering.
type Chunk struct {
	Seq        uint64
	Payload    []byte
	Encoding   Encoding
	SampleRate int
}
