package audio

import (
	"io"
	"math"
)

const (
	limiterThreshold = 0.8
	limiterKnee      = 1 - limiterThreshold
)

// MixInput is one gain-controlled source of a Mixer.
type MixInput struct {
	Source SampleSource
	Gain   float32
}

// Mixer sums its inputs quantum by quantum and soft-limits the result so the
// mix stays within [-1, 1] when several loud sources overlap.
type Mixer struct {
	inputs  []MixInput
	scratch []float32
}

// NewMixer builds a mixer. A zero gain is treated as unity.
func NewMixer(inputs ...MixInput) *Mixer {
	normalized := make([]MixInput, len(inputs))
	for i, in := range inputs {
		if in.Gain == 0 {
			in.Gain = 1
		}
		normalized[i] = in
	}
	return &Mixer{inputs: normalized}
}

// ReadSamples reads len(p) samples from every input, sums them and limits the
// sum. Inputs are read in lockstep, so a stalled input stalls the mix.
func (m *Mixer) ReadSamples(p []float32) (int, error) {
	if len(m.inputs) == 0 {
		return 0, io.EOF
	}
	if cap(m.scratch) < len(p) {
		m.scratch = make([]float32, len(p))
	}
	scratch := m.scratch[:len(p)]

	for i := range p {
		p[i] = 0
	}

	for _, in := range m.inputs {
		n, err := readFullSamples(in.Source, scratch)
		for i := 0; i < n; i++ {
			p[i] += scratch[i] * in.Gain
		}
		if err != nil {
			limit(p[:n])
			return n, err
		}
	}

	limit(p)
	return len(p), nil
}

func limit(samples []float32) {
	for i, s := range samples {
		samples[i] = SoftLimit(s)
	}
}

// SoftLimit passes samples below the threshold untouched and compresses the
// rest with a tanh knee that approaches but never exceeds 1.
func SoftLimit(s float32) float32 {
	mag := math.Abs(float64(s))
	if mag <= limiterThreshold || s != s {
		return s
	}
	limited := limiterThreshold + limiterKnee*math.Tanh((mag-limiterThreshold)/limiterKnee)
	if s < 0 {
		return float32(-limited)
	}
	return float32(limited)
}

func readFullSamples(src SampleSource, p []float32) (int, error) {
	total := 0
	for total < len(p) {
		n, err := src.ReadSamples(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}
