package audio

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultQuantum is the number of frames handed to the processor per call.
const DefaultQuantum = 128

// SampleSource produces mono float32 samples.
type SampleSource interface {
	ReadSamples(p []float32) (int, error)
}

// CaptureProcessor sits on the capture loop and forwards every quantum of the
// first channel of the first input to the control side through a bounded
// port. It never blocks: when the port is full the quantum is dropped.
type CaptureProcessor struct {
	port      chan []float32
	dropped   atomic.Uint64
	onDrop    func()
	closeOnce sync.Once
}

// NewCaptureProcessor creates a processor whose port holds up to depth quanta.
// onDrop may be nil.
func NewCaptureProcessor(depth int, onDrop func()) *CaptureProcessor {
	if depth <= 0 {
		depth = 64
	}
	return &CaptureProcessor{port: make(chan []float32, depth), onDrop: onDrop}
}

// Port delivers forwarded quanta. It is closed once the capture loop ends.
func (p *CaptureProcessor) Port() <-chan []float32 {
	return p.port
}

// Dropped returns how many quanta were discarded because the port was full.
func (p *CaptureProcessor) Dropped() uint64 {
	return p.dropped.Load()
}

// Process handles one quantum. It always returns true to stay alive.
func (p *CaptureProcessor) Process(inputs [][][]float32) bool {
	if len(inputs) == 0 || len(inputs[0]) == 0 || len(inputs[0][0]) == 0 {
		return true
	}

	channel := inputs[0][0]
	frame := make([]float32, len(channel))
	copy(frame, channel)

	select {
	case p.port <- frame:
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop()
		}
	}
	return true
}

func (p *CaptureProcessor) close() {
	p.closeOnce.Do(func() { close(p.port) })
}

// RunCaptureNode pulls quanta from src and feeds them to proc until src ends.
// The processor port is closed on return. io.EOF is a clean end.
func RunCaptureNode(src SampleSource, proc *CaptureProcessor, quantum int) error {
	defer proc.close()

	if quantum <= 0 {
		quantum = DefaultQuantum
	}

	buf := make([]float32, quantum)
	for {
		n, err := src.ReadSamples(buf)
		if n > 0 {
			if !proc.Process([][][]float32{{buf[:n]}}) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
