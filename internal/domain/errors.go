package domain

import "errors"

var (
	ErrNoAudioTrack      = errors.New("no audio track in captured stream")
	ErrPermissionDenied  = errors.New("permission to capture audio was denied")
	ErrDeviceNotFound    = errors.New("audio device not found")
	ErrCaptureFailed     = errors.New("audio capture failed")
	ErrNoActiveSession   = errors.New("no active streaming session")
	ErrSocketNotOpen     = errors.New("socket is not open")
	ErrMalformedMessage  = errors.New("malformed socket message")
	ErrTranslationOff    = errors.New("translation is not enabled")
	ErrInvalidSourceKind = errors.New("invalid audio source kind")
)

// CodeForError maps capture and session errors to the UI error code.
func CodeForError(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		return ErrorCodeDeviceNotFound
	case errors.Is(err, ErrNoAudioTrack):
		return ErrorCodeNoAudioTrack
	case errors.Is(err, ErrCaptureFailed), errors.Is(err, ErrInvalidSourceKind):
		return ErrorCodeCapture
	case errors.Is(err, ErrMalformedMessage):
		return ErrorCodeProtocol
	case errors.Is(err, ErrTranslationOff):
		return ErrorCodeTranslation
	default:
		return ErrorCodeTranscription
	}
}
