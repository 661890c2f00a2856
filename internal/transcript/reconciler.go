// Package transcript merges partial and retranscribed fragments from the
// transcription service into one displayed transcript.
package transcript

import (
	"strings"
	"sync"

	"livescribe/internal/domain"
	"livescribe/internal/protocol"
)

// Effect describes what one inbound message changed.
type Effect struct {
	Transcript        string
	TranscriptChanged bool

	Language        string
	LanguageChanged bool

	ServerError string
	Done        bool
}

// Reconciler holds a finalized prefix confirmed by retranscription plus the
// fragments received since. The displayed transcript is always
// finalized + " " + pending joined by spaces.
type Reconciler struct {
	mu        sync.Mutex
	finalized string
	pending   []string
	language  string
	detect    bool
	done      bool
}

// NewReconciler tracks the detected language only when inputLanguage asks
// the service to detect it.
func NewReconciler(inputLanguage string) *Reconciler {
	return &Reconciler{detect: inputLanguage == "" || inputLanguage == domain.AutoLanguage}
}

// Apply folds one message into the state. Messages are accepted in any
// session phase, including after the stream ended.
func (r *Reconciler) Apply(msg protocol.TranscriptionMessage) Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	var effect Effect
	switch m := msg.(type) {
	case protocol.Partial:
		before := r.textLocked()
		text := strings.TrimSpace(m.Text)
		if m.IsRetranscribe {
			r.finalized = joinNonEmpty(r.finalized, text)
			r.pending = r.pending[:0]
		} else if text != "" {
			r.pending = append(r.pending, text)
		}
		effect.Transcript = r.textLocked()
		effect.TranscriptChanged = effect.Transcript != before
	case protocol.DetectedLanguage:
		if !r.detect {
			break
		}
		effect.Language = m.Lang
		if m.Lang != "" && m.Lang != r.language {
			r.language = m.Lang
			effect.LanguageChanged = true
		}
	case protocol.ServerError:
		effect.ServerError = m.Message
	case protocol.Done:
		r.done = true
		effect.Done = true
	}
	return effect
}

func (r *Reconciler) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.textLocked()
}

func (r *Reconciler) Finalized() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

func (r *Reconciler) DetectedLanguage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.language
}

// Done reports whether the service acknowledged the end of the stream.
func (r *Reconciler) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = ""
	r.pending = nil
	r.language = ""
	r.done = false
}

func (r *Reconciler) textLocked() string {
	return joinNonEmpty(r.finalized, strings.Join(r.pending, " "))
}

func joinNonEmpty(a, b string) string {
	return strings.TrimSpace(a + " " + b)
}
