package audio

import "sync"

// RingBuffer is a fixed-size circular buffer for audio data.
// It automatically overwrites old data when full. The session rings the
// trailing caller audio and replays it into a reopened transcription
// stream, so speech spanning the reconnect gap is not lost.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewRingBuffer creates a ring buffer that holds exactly durationMs of audio.
func NewRingBuffer(config Config, durationMs int) *RingBuffer {
	size := config.BytesForDurationMs(durationMs)
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write adds data to the ring buffer, overwriting old data if necessary.
func (r *RingBuffer) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % r.size
		if r.filled < r.size {
			r.filled++
		}
	}
}

// Read returns all data in the buffer in chronological order.
func (r *RingBuffer) Read() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < r.size {
		result := make([]byte, r.filled)
		copy(result, r.data[:r.filled])
		return result
	}

	result := make([]byte, r.size)
	firstPart := r.size - r.writePos
	copy(result[:firstPart], r.data[r.writePos:])
	copy(result[firstPart:], r.data[:r.writePos])
	return result
}

// Clear resets the ring buffer.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.filled = 0
}

// Filled returns how many bytes have been written.
func (r *RingBuffer) Filled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}
