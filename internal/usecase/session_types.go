package usecase

import (
	"sync"
	"time"

	"livescribe/internal/audio"
	"livescribe/internal/domain"
	"livescribe/internal/ports"
	"livescribe/internal/transcript"
)

// SessionHandle identifies a started session. Stopping a handle whose session
// already stopped returns that session's result again.
type SessionHandle struct {
	ID            string
	Source        domain.SourceKind
	InputLanguage string
	StartedAt     time.Time

	session *activeSession
}

type activeSession struct {
	id            string
	kind          domain.SourceKind
	inputLanguage string
	startedAt     time.Time

	cancel      func()
	graphCancel func()
	devices     []ports.DeviceStream
	socket      ports.TranscriptionSocket
	recorder    *audio.Recorder
	reconciler  *transcript.Reconciler

	stateMu sync.Mutex
	state   domain.SessionState

	// closed when the service acknowledges the end of the stream
	doneAck     chan struct{}
	doneAckOnce sync.Once

	nodesDone   chan struct{}
	pumpDone    chan struct{}
	consumeDone chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	archive  domain.AudioArchive
	stopErr  error
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// stopping reports whether teardown has begun.
func (s *activeSession) stopping() bool {
	switch s.getState() {
	case domain.SessionStateStopping, domain.SessionStateClosed, domain.SessionStateError:
		return true
	default:
		return false
	}
}

func (s *activeSession) acknowledgeDone() {
	s.doneAckOnce.Do(func() { close(s.doneAck) })
}

func (s *activeSession) handle() SessionHandle {
	return SessionHandle{
		ID:            s.id,
		Source:        s.kind,
		InputLanguage: s.inputLanguage,
		StartedAt:     s.startedAt,
		session:       s,
	}
}
