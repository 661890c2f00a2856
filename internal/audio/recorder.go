package audio

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"livescribe/internal/domain"
)

const (
	wavHeaderSize    = 44
	wavPCMFormat     = 1
	bitsPerSample    = 16
	wavMimeType      = "audio/wav"
	recorderPrealloc = 16000 * bytesPerSample * 30
)

// Recorder keeps a copy of every PCM frame streamed during a session so the
// session can be downloaded as a WAV file afterwards.
type Recorder struct {
	sampleRate int
	channels   int

	mu        sync.Mutex
	pcm       []byte
	finalized bool
	archive   domain.AudioArchive
}

func NewRecorder(sampleRate, channels int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		pcm:        make([]byte, 0, recorderPrealloc),
	}
}

// Write appends a PCM frame. Frames written after Finalize are ignored.
func (r *Recorder) Write(frame []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return len(frame), nil
	}
	r.pcm = append(r.pcm, frame...)
	return len(frame), nil
}

// Finalize renders the recording. Later calls return the same archive.
func (r *Recorder) Finalize(sessionID string) domain.AudioArchive {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return r.archive
	}
	r.finalized = true

	frameSize := bytesPerSample * r.channels
	frames := len(r.pcm) / frameSize
	r.archive = domain.AudioArchive{
		SessionID:  sessionID,
		MimeType:   wavMimeType,
		Data:       encodeWAV(r.pcm[:frames*frameSize], r.sampleRate, r.channels),
		SampleRate: r.sampleRate,
		Duration:   time.Duration(frames) * time.Second / time.Duration(r.sampleRate),
	}
	r.pcm = nil
	return r.archive
}

func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	byteRate := sampleRate * channels * bytesPerSample

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
