package ports

import (
	"context"

	"livescribe/internal/domain"
	"livescribe/internal/protocol"
)

// AudioConfig describes how device audio should be captured.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	InputFormat   string
	InputDevice   string
	MonitorDevice string
}

// AudioTrack is one live source of mono float32 samples.
type AudioTrack interface {
	ID() string
	// ReadSamples fills p with samples in [-1, 1] and blocks until some are available.
	ReadSamples(p []float32) (int, error)
	// Ended is closed when the track stops on its own (device removed, capture revoked).
	Ended() <-chan struct{}
	Stop() error
}

// DeviceStream groups the tracks acquired for one device request.
type DeviceStream interface {
	AudioTracks() []AudioTrack
	Stop() error
}

// MediaDevices acquires device streams.
type MediaDevices interface {
	Acquire(ctx context.Context, kind domain.SourceKind, cfg AudioConfig) (DeviceStream, error)
}

// TranscriptionConfig parameterizes one transcription socket.
type TranscriptionConfig struct {
	InputLanguage string
	SampleRate    int
}

// TranscriptionSocket is an open (or opening) transcription connection.
// Audio sent before the connection opens is queued and flushed in order.
type TranscriptionSocket interface {
	SendAudio(frame []byte) error
	SendEnd() error
	Messages() <-chan protocol.TranscriptionMessage
	Done() <-chan struct{}
	Err() error
	Close() error
}

// TranscriptionProvider opens transcription sockets.
type TranscriptionProvider interface {
	OpenTranscription(ctx context.Context, cfg TranscriptionConfig) (TranscriptionSocket, error)
}

// TranslationConfig parameterizes one translation socket.
type TranslationConfig struct {
	InputLanguage  string
	TargetLanguage string
}

// TranslationSocket is a translation connection. Sends are dropped unless it is open.
type TranslationSocket interface {
	Send(msg protocol.TranslationRequest) error
	IsOpen() bool
	// Opened is closed once the connection is open.
	Opened() <-chan struct{}
	Messages() <-chan protocol.TranslationMessage
	Done() <-chan struct{}
	Close() error
}

// TranslationProvider opens translation sockets.
type TranslationProvider interface {
	OpenTranslation(ctx context.Context, cfg TranslationConfig) (TranslationSocket, error)
}

// ArchiveStore keeps finished sessions and their recordings.
type ArchiveStore interface {
	Save(ctx context.Context, summary domain.SessionSummary, archive domain.AudioArchive) (string, error)
	List(ctx context.Context, limit int) ([]domain.SessionSummary, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptUpdated(text string)
	DetectedLanguageChanged(lang string)
	TranslationUpdated(text string)
	SessionError(code domain.ErrorCode, detail string)
}
