package domain

import "time"

// SourceKind selects which device streams a capture session acquires.
type SourceKind string

const (
	SourceMicrophone SourceKind = "microphone"
	SourceScreen     SourceKind = "screen"
	SourceMixed      SourceKind = "mixed"
)

// Valid reports whether k names a supported source.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceMicrophone, SourceScreen, SourceMixed:
		return true
	default:
		return false
	}
}

// SessionState models the capture session lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateActive   SessionState = "active"
	SessionStateStopping SessionState = "stopping"
	SessionStateClosed   SessionState = "closed"
	SessionStateError    SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady         SessionStateReason = "ready"
	SessionReasonAcquiring     SessionStateReason = "acquiring_devices"
	SessionReasonStreaming     SessionStateReason = "streaming"
	SessionReasonStopRequested SessionStateReason = "stop_requested"
	SessionReasonTrackEnded    SessionStateReason = "track_ended"
	SessionReasonFinished      SessionStateReason = "finished"
	SessionReasonDoneTimeout   SessionStateReason = "done_timeout"
	SessionReasonCaptureFailed SessionStateReason = "capture_failed"
	SessionReasonSocketFailed  SessionStateReason = "socket_failed"
	SessionReasonRestarted     SessionStateReason = "restarted"
)

// ErrorCode identifies user-facing error categories.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodePermissionDenied  ErrorCode = "permission_denied"
	ErrorCodeDeviceNotFound    ErrorCode = "device_not_found"
	ErrorCodeNoAudioTrack      ErrorCode = "no_audio_track"
	ErrorCodeCapture           ErrorCode = "capture"
	ErrorCodeAudioStream       ErrorCode = "audio_stream"
	ErrorCodeTranscription     ErrorCode = "transcription"
	ErrorCodeTranslation       ErrorCode = "translation"
	ErrorCodeProtocol          ErrorCode = "protocol"
	ErrorCodeArchive           ErrorCode = "archive"
	ErrorCodeTranscriptionDone ErrorCode = "transcription_done_timeout"
)

// TranslationMode tags translate requests and results.
type TranslationMode string

const (
	TranslationIncremental TranslationMode = "incremental"
	TranslationRefresh     TranslationMode = "refresh"
)

// AutoLanguage asks the transcription service to detect the spoken language.
const AutoLanguage = "auto"

// AudioArchive is the downloadable recording produced when a session stops.
type AudioArchive struct {
	SessionID  string        `json:"sessionId"`
	MimeType   string        `json:"mimeType"`
	Data       []byte        `json:"data"`
	SampleRate int           `json:"sampleRate"`
	Duration   time.Duration `json:"duration"`
	Path       string        `json:"path,omitempty"`
}

// SessionSummary is what remains of a finished session.
type SessionSummary struct {
	SessionID        string     `json:"sessionId"`
	Source           SourceKind `json:"source"`
	InputLanguage    string     `json:"inputLanguage"`
	DetectedLanguage string     `json:"detectedLanguage,omitempty"`
	Transcript       string     `json:"transcript"`
	Translation      string     `json:"translation,omitempty"`
	TargetLanguage   string     `json:"targetLanguage,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          time.Time  `json:"endedAt"`
	AudioPath        string     `json:"audioPath,omitempty"`
}

// Status summarizes the current runtime status.
type Status struct {
	State       SessionState `json:"state"`
	Active      bool         `json:"active"`
	SessionID   string       `json:"sessionId,omitempty"`
	Source      SourceKind   `json:"source,omitempty"`
	Translating bool         `json:"translating"`
	Message     string       `json:"message,omitempty"`
}
