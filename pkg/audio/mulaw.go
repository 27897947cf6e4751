package audio

// G.711 mu-law companding. The carrier delivers and accepts 8-bit mu-law
// samples; speech engines and energy analysis want 16-bit linear PCM.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLawSample compands one 16-bit linear PCM sample to mu-law.
func EncodeMuLawSample(sample int16) byte {
	var sign byte
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLawSample expands one mu-law sample to 16-bit linear PCM.
func DecodeMuLawSample(ulaw byte) int16 {
	ulaw = ^ulaw
	sign := ulaw & 0x80
	exponent := (ulaw >> 4) & 0x07
	mantissa := ulaw & 0x0F

	v := (int32(mantissa)<<3 + muLawBias) << exponent
	v -= muLawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// DecodeMuLaw expands mu-law audio to 16-bit little-endian PCM.
func DecodeMuLaw(ulaw []byte) []byte {
	pcm := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		s := DecodeMuLawSample(b)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// EncodeMuLaw compands 16-bit little-endian PCM to mu-law audio.
// A trailing odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	ulaw := make([]byte, len(pcm)/2)
	for i := range ulaw {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		ulaw[i] = EncodeMuLawSample(s)
	}
	return ulaw
}
