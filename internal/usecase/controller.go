package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"livescribe/internal/audio"
	"livescribe/internal/domain"
	"livescribe/internal/metrics"
	"livescribe/internal/ports"
	"livescribe/internal/transcript"
)

const defaultDoneTimeout = 10 * time.Second

// Config controls capture sessions.
type Config struct {
	Audio       ports.AudioConfig
	Quantum     int
	PortDepth   int
	DoneTimeout time.Duration
}

// SessionObserver follows the transcript of the active session.
type SessionObserver interface {
	OnSessionStarted()
	OnTranscript(text string)
	TranslationSnapshot() (text, targetLanguage string)
}

// SessionController owns the lifecycle of one capture session at a time:
// device acquisition, the capture graph, the transcription socket and the
// recorder.
type SessionController struct {
	devices   ports.MediaDevices
	provider  ports.TranscriptionProvider
	events    ports.EventSink
	finalizer archiveFinalizer
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics

	// startMu serialises Start from reading the previous session until the
	// new one is registered.
	startMu sync.Mutex

	mu       sync.Mutex
	current  *activeSession
	observer SessionObserver
}

func NewSessionController(
	devices ports.MediaDevices,
	provider ports.TranscriptionProvider,
	store ports.ArchiveStore,
	events ports.EventSink,
	cfg Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *SessionController {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Quantum <= 0 {
		cfg.Quantum = audio.DefaultQuantum
	}
	if cfg.DoneTimeout <= 0 {
		cfg.DoneTimeout = defaultDoneTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionController{
		devices:   devices,
		provider:  provider,
		events:    events,
		finalizer: newArchiveFinalizer(store, events, logger),
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// SetObserver registers the component that follows session transcripts.
func (c *SessionController) SetObserver(observer SessionObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = observer
}

// Start acquires the devices for kind and begins streaming. A session that is
// already running is stopped first.
func (c *SessionController) Start(ctx context.Context, kind domain.SourceKind, inputLanguage string) (SessionHandle, error) {
	if !kind.Valid() {
		return SessionHandle{}, fmt.Errorf("%w: %q", domain.ErrInvalidSourceKind, kind)
	}
	inputLanguage = strings.TrimSpace(inputLanguage)
	if inputLanguage == "" {
		inputLanguage = domain.AutoLanguage
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	previous := c.current
	c.current = nil
	c.mu.Unlock()

	if previous != nil {
		c.stop(previous, domain.SessionReasonRestarted)
	}

	c.events.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonAcquiring)

	// The session outlives the request that started it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	devices, err := c.acquire(sessionCtx, kind)
	if err != nil {
		cancel()
		return SessionHandle{}, c.failStart(err, domain.SessionReasonCaptureFailed)
	}
	tracks := collectTracks(devices)
	if len(tracks) == 0 {
		stopDevices(devices)
		cancel()
		return SessionHandle{}, c.failStart(domain.ErrNoAudioTrack, domain.SessionReasonCaptureFailed)
	}

	socket, err := c.provider.OpenTranscription(sessionCtx, ports.TranscriptionConfig{
		InputLanguage: inputLanguage,
		SampleRate:    c.cfg.Audio.SampleRate,
	})
	if err != nil {
		stopDevices(devices)
		cancel()
		return SessionHandle{}, c.failStart(err, domain.SessionReasonSocketFailed)
	}

	graphCtx, graphCancel := context.WithCancel(sessionCtx)
	active := &activeSession{
		id:            uuid.NewString(),
		kind:          kind,
		inputLanguage: inputLanguage,
		startedAt:     time.Now(),
		cancel:        cancel,
		graphCancel:   graphCancel,
		devices:       devices,
		socket:        socket,
		recorder:      audio.NewRecorder(c.cfg.Audio.SampleRate, 1),
		reconciler:    transcript.NewReconciler(inputLanguage),
		state:         domain.SessionStateActive,
		doneAck:       make(chan struct{}),
		nodesDone:     make(chan struct{}),
		pumpDone:      make(chan struct{}),
		consumeDone:   make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	proc := audio.NewCaptureProcessor(c.cfg.PortDepth, c.metrics.CaptureDropped)

	c.mu.Lock()
	c.current = active
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer.OnSessionStarted()
	}

	reason := domain.SessionReasonStreaming
	if previous != nil {
		reason = domain.SessionReasonRestarted
	}
	c.metrics.SessionStarted()
	c.events.SessionStateChanged(domain.SessionStateActive, reason)
	c.logger.Info("session started",
		zap.String("session", active.id),
		zap.String("source", string(kind)),
		zap.String("lang", inputLanguage),
		zap.Int("tracks", len(tracks)),
	)

	go consumeTranscription(active, c.events, observer, active.consumeDone)
	go pumpAudioFrames(graphCtx, proc.Port(), active.recorder, socket, c.events, active.pumpDone)
	go runCaptureNode(captureSource(tracks), proc, c.cfg.Quantum, active.nodesDone, func(err error) {
		c.onCaptureEnded(active, err)
	})
	for _, track := range tracks {
		go c.watchTrack(active, track)
	}
	go c.watchSocket(active)

	return active.handle(), nil
}

// Stop tears down the session behind handle and returns its recording.
// Concurrent and repeated calls share the result of the first.
func (c *SessionController) Stop(_ context.Context, handle SessionHandle) (domain.AudioArchive, error) {
	active := handle.session
	if active == nil {
		return domain.AudioArchive{}, domain.ErrNoActiveSession
	}
	c.stop(active, domain.SessionReasonStopRequested)
	return active.archive, active.stopErr
}

// StopCurrent stops whichever session is running.
func (c *SessionController) StopCurrent(ctx context.Context) (domain.AudioArchive, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.AudioArchive{}, err
	}
	return c.Stop(ctx, active.handle())
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle}
	}
	state := c.current.getState()
	return domain.Status{
		State:     state,
		Active:    state == domain.SessionStateActive || state == domain.SessionStateStopping,
		SessionID: c.current.id,
		Source:    c.current.kind,
	}
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, domain.ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) acquire(ctx context.Context, kind domain.SourceKind) ([]ports.DeviceStream, error) {
	if kind != domain.SourceMixed {
		stream, err := c.devices.Acquire(ctx, kind, c.cfg.Audio)
		if err != nil {
			return nil, err
		}
		return []ports.DeviceStream{stream}, nil
	}

	var mic, screen ports.DeviceStream
	var g errgroup.Group
	g.Go(func() error {
		stream, err := c.devices.Acquire(ctx, domain.SourceMicrophone, c.cfg.Audio)
		mic = stream
		return err
	})
	g.Go(func() error {
		stream, err := c.devices.Acquire(ctx, domain.SourceScreen, c.cfg.Audio)
		screen = stream
		return err
	})
	if err := g.Wait(); err != nil {
		stopDevices([]ports.DeviceStream{mic, screen})
		return nil, err
	}
	return []ports.DeviceStream{mic, screen}, nil
}

func collectTracks(devices []ports.DeviceStream) []ports.AudioTrack {
	var tracks []ports.AudioTrack
	for _, device := range devices {
		tracks = append(tracks, device.AudioTracks()...)
	}
	return tracks
}

func stopDevices(devices []ports.DeviceStream) error {
	var errs []error
	for _, device := range devices {
		if device == nil {
			continue
		}
		if err := device.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *SessionController) failStart(err error, reason domain.SessionStateReason) error {
	c.logger.Warn("session failed to start", zap.Error(err))
	c.events.SessionError(domain.CodeForError(err), err.Error())
	c.events.SessionStateChanged(domain.SessionStateError, reason)
	return err
}

func (c *SessionController) onCaptureEnded(active *activeSession, err error) {
	if active.stopping() {
		return
	}
	reason := domain.SessionReasonTrackEnded
	if err != nil {
		reason = domain.SessionReasonCaptureFailed
		c.events.SessionError(domain.ErrorCodeCapture, fmt.Sprintf("audio capture error: %v", err))
	}
	go c.stop(active, reason)
}

func (c *SessionController) watchTrack(active *activeSession, track ports.AudioTrack) {
	select {
	case <-track.Ended():
		if !active.stopping() {
			c.logger.Info("audio track ended", zap.String("session", active.id), zap.String("track", track.ID()))
			c.stop(active, domain.SessionReasonTrackEnded)
		}
	case <-active.stopped:
	}
}

func (c *SessionController) watchSocket(active *activeSession) {
	<-active.consumeDone
	if active.stopping() {
		return
	}
	detail := "transcription connection closed"
	if err := active.socket.Err(); err != nil {
		detail = err.Error()
	}
	c.events.SessionError(domain.ErrorCodeTranscription, detail)
	c.stop(active, domain.SessionReasonSocketFailed)
}

// stop runs the teardown exactly once; other callers block until it is done.
func (c *SessionController) stop(active *activeSession, reason domain.SessionStateReason) {
	active.stopOnce.Do(func() {
		c.teardown(active, reason)
	})
}

// teardown releases the session in a fixed order: capture graph, device
// tracks, recorder, end-of-stream handshake, socket.
func (c *SessionController) teardown(active *activeSession, reason domain.SessionStateReason) {
	logger := c.logger.With(zap.String("session", active.id))
	active.setState(domain.SessionStateStopping)
	c.events.SessionStateChanged(domain.SessionStateStopping, reason)

	active.graphCancel()
	if err := stopDevices(active.devices); err != nil {
		logger.Warn("failed to stop audio devices cleanly", zap.Error(err))
		c.events.SessionError(domain.ErrorCodeCapture, "failed to stop audio capture cleanly")
	}
	<-active.nodesDone
	<-active.pumpDone

	archive := active.recorder.Finalize(active.id)

	closedReason := domain.SessionReasonFinished
	if err := active.socket.SendEnd(); err != nil {
		logger.Warn("could not request end of transcription", zap.Error(err))
	} else {
		switch waitForDone(active.doneAck, active.consumeDone, c.cfg.DoneTimeout, c.metrics) {
		case domain.SessionReasonDoneTimeout:
			closedReason = domain.SessionReasonDoneTimeout
			logger.Warn("no done acknowledgment, closing transcription socket", zap.Duration("timeout", c.cfg.DoneTimeout))
			c.events.SessionError(domain.ErrorCodeTranscriptionDone, "transcription service did not confirm the end of the stream")
		case domain.SessionReasonSocketFailed:
			if active.socket.Err() != nil {
				closedReason = domain.SessionReasonSocketFailed
			}
		}
	}

	if err := active.socket.Close(); err != nil {
		logger.Debug("transcription socket closed with error", zap.Error(err))
	}
	<-active.consumeDone
	active.cancel()

	switch reason {
	case domain.SessionReasonCaptureFailed:
		closedReason = reason
	case domain.SessionReasonSocketFailed:
		closedReason = reason
		active.stopErr = active.socket.Err()
	}

	c.mu.Lock()
	observer := c.observer
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	summary := domain.SessionSummary{
		SessionID:        active.id,
		Source:           active.kind,
		InputLanguage:    active.inputLanguage,
		DetectedLanguage: active.reconciler.DetectedLanguage(),
		Transcript:       active.reconciler.Text(),
		StartedAt:        active.startedAt,
		EndedAt:          time.Now(),
	}
	if observer != nil {
		summary.Translation, summary.TargetLanguage = observer.TranslationSnapshot()
	}
	active.archive = c.finalizer.Finalize(context.Background(), summary, archive)

	active.setState(domain.SessionStateClosed)
	c.metrics.SessionStopped(string(closedReason), summary.EndedAt.Sub(active.startedAt).Seconds())
	c.events.SessionStateChanged(domain.SessionStateClosed, closedReason)
	logger.Info("session stopped",
		zap.String("reason", string(closedReason)),
		zap.Duration("recorded", archive.Duration),
	)
	close(active.stopped)
}
