package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"livescribe/internal/archive"
	"livescribe/internal/bootstrap"
	"livescribe/internal/config"
	"livescribe/internal/domain"
	"livescribe/internal/usecase"
)

const (
	eventSession     = "livescribe:session"
	eventTranscript  = "livescribe:transcript"
	eventLanguage    = "livescribe:language"
	eventTranslation = "livescribe:translation"
	eventError       = "livescribe:error"

	defaultArchiveListLimit = 50
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.SessionController
	translator *usecase.TranslationController
	cfg        config.Config
	logger     *zap.Logger
	bootErr    error
}

func NewApp() *App {
	return &App{logger: zap.NewNop()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.translator = services.Translator
	a.logger = services.Logger
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.translator != nil && a.translator.Enabled() {
		if err := a.translator.Disable(ctx); err != nil {
			a.logger.Warn("failed to disable translation on shutdown", zap.Error(err))
		}
	}
	if a.controller != nil {
		if _, err := a.controller.StopCurrent(ctx); err != nil && !errors.Is(err, domain.ErrNoActiveSession) {
			a.logger.Warn("failed to stop session on shutdown", zap.Error(err))
		}
	}
	if err := a.services.Close(); err != nil {
		a.logger.Warn("failed to close services", zap.Error(err))
	}
}

// StartStreaming captures source ("microphone", "screen" or "mixed") and
// streams it for transcription. An empty language asks for detection.
func (a *App) StartStreaming(source string, language string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if _, err := a.controller.Start(a.ctx, domain.SourceKind(source), language); err != nil {
		return domain.Status{}, err
	}
	return a.GetStatus(), nil
}

// StopStreaming stops the session and returns its recording.
func (a *App) StopStreaming() (domain.AudioArchive, error) {
	if err := a.requireReady(); err != nil {
		return domain.AudioArchive{}, err
	}
	recording, err := a.controller.StopCurrent(a.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoActiveSession) {
			a.SessionError(domain.ErrorCodeTranscription, err.Error())
		}
		return recording, err
	}
	return recording, nil
}

// EnableTranslation opens the live translation view.
func (a *App) EnableTranslation(inputLanguage string, targetLanguage string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.translator.Enable(a.ctx, inputLanguage, targetLanguage)
}

// ChangeTranslationLanguages switches languages without losing the
// translation shown so far.
func (a *App) ChangeTranslationLanguages(inputLanguage string, targetLanguage string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.translator.SetLanguages(inputLanguage, targetLanguage); err != nil {
		a.SessionError(domain.CodeForError(err), err.Error())
		return err
	}
	return nil
}

// DisableTranslation closes the translation view after a final refresh.
func (a *App) DisableTranslation() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.translator.Disable(a.ctx)
	if errors.Is(err, domain.ErrTranslationOff) {
		return nil
	}
	return err
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	status := a.controller.Status()
	status.Translating = a.translator != nil && a.translator.Enabled()
	return status
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"audioMonitor":     a.cfg.Audio.MonitorDevice,
		"sampleRate":       strconv.Itoa(a.cfg.Audio.SampleRate),
		"archiveDir":       a.cfg.Archive.Dir,
	}
}

// ListArchives returns the most recent archived sessions.
func (a *App) ListArchives(limit int) ([]domain.SessionSummary, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultArchiveListLimit
	}
	return a.services.Archive.List(a.ctx, limit)
}

// GetArchive returns one archived session, including where its recording
// was written.
func (a *App) GetArchive(sessionID string) (archive.Record, error) {
	if a.bootErr != nil {
		return archive.Record{}, a.bootErr
	}
	if a.services.Archive == nil {
		return archive.Record{}, fmt.Errorf("application is not initialized")
	}
	return a.services.Archive.Get(a.ctx, sessionID)
}

// GetMetrics returns the streaming counters keyed by metric name and labels.
func (a *App) GetMetrics() (map[string]float64, error) {
	if a.bootErr != nil {
		return nil, a.bootErr
	}
	return a.services.Metrics.Snapshot()
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil || a.translator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptUpdated emits the full reconciled transcript.
func (a *App) TranscriptUpdated(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, map[string]string{"text": text})
}

func (a *App) DetectedLanguageChanged(lang string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventLanguage, map[string]string{"lang": lang})
}

// TranslationUpdated emits the full translation text.
func (a *App) TranslationUpdated(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranslation, map[string]string{"text": text})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonAcquiring:
		return "Waiting for audio devices..."
	case domain.SessionReasonStreaming:
		return "Streaming"
	case domain.SessionReasonRestarted:
		return "Streaming restarted; previous session stopped"
	case domain.SessionReasonStopRequested:
		return "Stopping..."
	case domain.SessionReasonTrackEnded:
		return "Audio source ended"
	case domain.SessionReasonFinished:
		return "Session finished"
	case domain.SessionReasonDoneTimeout:
		return "Session finished; last words may be missing"
	case domain.SessionReasonCaptureFailed:
		return "Audio capture failed"
	case domain.SessionReasonSocketFailed:
		return "Connection to the transcription service lost"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermissionDenied:
		return "Permission to capture audio was denied"
	case domain.ErrorCodeDeviceNotFound:
		return "Audio device not found"
	case domain.ErrorCodeNoAudioTrack:
		return "The selected source has no audio"
	case domain.ErrorCodeCapture:
		return "Audio capture issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeTranscriptionDone:
		return "Transcription did not finish in time"
	case domain.ErrorCodeTranslation:
		return "Translation error"
	case domain.ErrorCodeProtocol:
		return "Unexpected message from the server"
	case domain.ErrorCodeArchive:
		return "Recording could not be archived"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
