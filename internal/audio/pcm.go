package audio

import "encoding/binary"

const bytesPerSample = 2

// EncodePCM16 converts float samples to 16-bit signed little-endian PCM.
// Samples are clamped to [-1, 1] first; negative values scale by 0x8000 and
// positive values by 0x7FFF so both ends of the int16 range are reachable.
// NaN encodes as silence.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(sampleToInt16(s)))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM back to floats in [-1, 1).
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/bytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
		out[i] = float32(v) / 0x8000
	}
	return out
}

func sampleToInt16(s float32) int16 {
	if s != s {
		return 0
	}
	s = clampUnit(s)
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

func clampUnit(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
