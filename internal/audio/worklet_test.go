package audio

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	samples []float32
	err     error
}

func (s *sliceSource) ReadSamples(p []float32) (int, error) {
	if len(s.samples) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.samples)
	s.samples = s.samples[n:]
	return n, nil
}

func TestCaptureProcessorForwardsFirstChannel(t *testing.T) {
	t.Parallel()

	proc := NewCaptureProcessor(4, nil)
	left := []float32{0.1, 0.2}
	right := []float32{0.9, 0.9}

	assert.True(t, proc.Process([][][]float32{{left, right}, {{0.5}}}))
	left[0] = 0.7

	frame := <-proc.Port()
	assert.Equal(t, []float32{0.1, 0.2}, frame)
}

func TestCaptureProcessorIgnoresEmptyInput(t *testing.T) {
	t.Parallel()

	proc := NewCaptureProcessor(1, nil)
	assert.True(t, proc.Process(nil))
	assert.True(t, proc.Process([][][]float32{{}}))
	assert.True(t, proc.Process([][][]float32{{{}}}))
	assert.Len(t, proc.Port(), 0)
}

func TestCaptureProcessorDropsWhenPortIsFull(t *testing.T) {
	t.Parallel()

	drops := 0
	proc := NewCaptureProcessor(1, func() { drops++ })

	assert.True(t, proc.Process([][][]float32{{{0.1}}}))
	assert.True(t, proc.Process([][][]float32{{{0.2}}}))
	assert.True(t, proc.Process([][][]float32{{{0.3}}}))

	assert.Equal(t, uint64(2), proc.Dropped())
	assert.Equal(t, 2, drops)
	assert.Equal(t, []float32{0.1}, <-proc.Port())
}

func TestRunCaptureNodeDeliversQuantaAndClosesPort(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 300)
	for i := range samples {
		samples[i] = float32(i) / 300
	}
	proc := NewCaptureProcessor(8, nil)

	require.NoError(t, RunCaptureNode(&sliceSource{samples: samples}, proc, DefaultQuantum))

	var got []float32
	sizes := []int{}
	for frame := range proc.Port() {
		sizes = append(sizes, len(frame))
		got = append(got, frame...)
	}
	assert.Equal(t, []int{128, 128, 44}, sizes)
	assert.Equal(t, samples, got)
}

func TestRunCaptureNodeReturnsSourceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("device unplugged")
	proc := NewCaptureProcessor(2, nil)

	err := RunCaptureNode(&sliceSource{samples: []float32{0.1}, err: boom}, proc, 0)
	assert.ErrorIs(t, err, boom)

	_, open := <-proc.Port()
	assert.True(t, open)
	_, open = <-proc.Port()
	assert.False(t, open)
}
