package usecase

import (
	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// consumeTranscription applies every inbound message to the reconciler until
// the socket closes, forwarding the visible effects to the UI. Messages that
// arrive after a stop request are still applied.
func consumeTranscription(
	session *activeSession,
	events ports.EventSink,
	observer SessionObserver,
	done chan struct{},
) {
	defer close(done)

	for msg := range session.socket.Messages() {
		effect := session.reconciler.Apply(msg)
		if effect.LanguageChanged {
			events.DetectedLanguageChanged(effect.Language)
		}
		if effect.TranscriptChanged {
			events.TranscriptUpdated(effect.Transcript)
			if observer != nil {
				observer.OnTranscript(effect.Transcript)
			}
		}
		if effect.ServerError != "" {
			events.SessionError(domain.ErrorCodeTranscription, effect.ServerError)
		}
		if effect.Done {
			session.acknowledgeDone()
		}
	}
}
