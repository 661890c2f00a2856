package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

const (
	bytesPerFloat   = 4
	startupProbe    = 250 * time.Millisecond
	interruptPeriod = 1200 * time.Millisecond
)

// FFMPEGDevices captures device audio as float32 mono samples through ffmpeg.
type FFMPEGDevices struct {
	command string
}

func NewFFMPEGDevices(command string) *FFMPEGDevices {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGDevices{command: command}
}

// Acquire starts the tracks for a microphone or screen request. A screen
// request without a configured monitor device yields a stream with no audio
// tracks; the caller decides whether that is an error.
func (d *FFMPEGDevices) Acquire(ctx context.Context, kind domain.SourceKind, cfg ports.AudioConfig) (ports.DeviceStream, error) {
	cfg = withAudioDefaults(cfg)

	var device string
	switch kind {
	case domain.SourceMicrophone:
		device = cfg.InputDevice
	case domain.SourceScreen:
		device = cfg.MonitorDevice
		if device == "" {
			return &deviceStream{}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSourceKind, kind)
	}

	track, err := d.startTrack(ctx, string(kind)+":"+device, cfg, device)
	if err != nil {
		return nil, err
	}
	return &deviceStream{tracks: []ports.AudioTrack{track}}, nil
}

func withAudioDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func (d *FFMPEGDevices) startTrack(ctx context.Context, id string, cfg ports.AudioConfig, device string) (*ffmpegTrack, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout pipe: %v", domain.ErrCaptureFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyCaptureError(err, "")
	}

	track := &ffmpegTrack{
		id:      id,
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		exited:  make(chan struct{}),
		ended:   make(chan struct{}),
	}
	go track.wait(cmd)

	select {
	case <-track.exited:
		return nil, classifyCaptureError(track.exitErr, stderr.String())
	case <-time.After(startupProbe):
	}
	return track, nil
}

// classifyCaptureError maps ffmpeg failures onto the device error kinds the
// UI can act on.
func classifyCaptureError(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}
	if detail == "" {
		detail = "capture process exited before capture started"
	}

	lower := strings.ToLower(detail)
	switch {
	case errors.Is(err, os.ErrPermission),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "access denied"),
		strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, detail)
	case strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such entity"),
		strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "device not found"):
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrCaptureFailed, detail)
	}
}

type deviceStream struct {
	tracks   []ports.AudioTrack
	stopOnce sync.Once
	stopErr  error
}

func (s *deviceStream) AudioTracks() []ports.AudioTrack {
	return s.tracks
}

func (s *deviceStream) Stop() error {
	s.stopOnce.Do(func() {
		var errs []error
		for _, track := range s.tracks {
			if err := track.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

type ffmpegTrack struct {
	id     string
	stdout io.ReadCloser
	stderr *lockedBuffer

	process *os.Process
	exited  chan struct{}
	exitErr error
	ended   chan struct{}

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error

	pending []byte
	raw     []byte
}

func (t *ffmpegTrack) wait(cmd *exec.Cmd) {
	t.exitErr = cmd.Wait()
	close(t.exited)
	if !t.stopping.Load() {
		close(t.ended)
	}
}

func (t *ffmpegTrack) ID() string {
	return t.id
}

func (t *ffmpegTrack) Ended() <-chan struct{} {
	return t.ended
}

// ReadSamples decodes little-endian float32 samples from the ffmpeg pipe,
// carrying partial samples over to the next call. It returns at least one
// sample unless the pipe fails.
func (t *ffmpegTrack) ReadSamples(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	want := len(p) * bytesPerFloat
	if cap(t.raw) < want {
		t.raw = make([]byte, want)
	}

	for len(t.pending) < bytesPerFloat {
		n, err := t.stdout.Read(t.raw[:want-len(t.pending)])
		t.pending = append(t.pending, t.raw[:n]...)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				err = io.EOF
			}
			return t.drain(p), err
		}
	}
	return t.drain(p), nil
}

func (t *ffmpegTrack) drain(p []float32) int {
	count := len(t.pending) / bytesPerFloat
	if count > len(p) {
		count = len(p)
	}
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint32(t.pending[i*bytesPerFloat:])
		p[i] = math.Float32frombits(bits)
	}
	rest := copy(t.pending, t.pending[count*bytesPerFloat:])
	t.pending = t.pending[:rest]
	return count
}

func (t *ffmpegTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.stopping.Store(true)
		if t.process != nil {
			_ = t.process.Signal(os.Interrupt)
		}

		select {
		case <-t.exited:
		case <-time.After(interruptPeriod):
			if t.process != nil {
				_ = t.process.Kill()
			}
			<-t.exited
		}
		t.stopErr = normalizeStopErr(t.exitErr)

		if closeErr := t.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if t.stopErr == nil {
				t.stopErr = closeErr
			}
		}
		if t.stopErr != nil && t.stderr.Len() > 0 {
			t.stopErr = fmt.Errorf("%w: %s", t.stopErr, strings.TrimSpace(t.stderr.String()))
		}
	})
	return t.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// lockedBuffer collects ffmpeg stderr while the process is still writing it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
