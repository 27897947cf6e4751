package audio

import "math"

// RMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Normalize to -1.0 to 1.0
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// MuLawRMSEnergy decodes mu-law audio and computes its RMS energy.
// Carrier media arrives as mu-law; energy analysis works on linear PCM.
func MuLawRMSEnergy(ulaw []byte) float64 {
	if len(ulaw) == 0 {
		return 0
	}

	var sum float64
	for _, b := range ulaw {
		normalized := float64(DecodeMuLawSample(b)) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(len(ulaw)))
}
