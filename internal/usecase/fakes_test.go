package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
	"livescribe/internal/protocol"
)

type fakeTrack struct {
	id      string
	samples chan []float32
	ended   chan struct{}
	stopCh  chan struct{}

	endOnce  sync.Once
	stopOnce sync.Once

	mu        sync.Mutex
	stopCalls int
	pending   []float32
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{
		id:      id,
		samples: make(chan []float32, 64),
		ended:   make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) ReadSamples(p []float32) (int, error) {
	if len(t.pending) == 0 {
		select {
		case s := <-t.samples:
			t.pending = s
		case <-t.stopCh:
			return 0, io.EOF
		}
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *fakeTrack) Ended() <-chan struct{} { return t.ended }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stopCalls++
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// end simulates the device going away.
func (t *fakeTrack) end() {
	t.endOnce.Do(func() { close(t.ended) })
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *fakeTrack) feed(value float32, n int) {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = value
	}
	t.samples <- frame
}

type fakeDeviceStream struct {
	tracks []ports.AudioTrack

	mu        sync.Mutex
	stopCalls int
}

func (s *fakeDeviceStream) AudioTracks() []ports.AudioTrack { return s.tracks }

func (s *fakeDeviceStream) Stop() error {
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()
	for _, track := range s.tracks {
		_ = track.Stop()
	}
	return nil
}

func (s *fakeDeviceStream) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

type fakeDevices struct {
	mu      sync.Mutex
	streams map[domain.SourceKind][]*fakeDeviceStream
	errs    map[domain.SourceKind]error
	calls   []domain.SourceKind

	// entered receives each kind as Acquire is reached; gate, when set,
	// holds Acquire until closed.
	entered chan domain.SourceKind
	gate    chan struct{}
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		streams: map[domain.SourceKind][]*fakeDeviceStream{},
		errs:    map[domain.SourceKind]error{},
	}
}

func (f *fakeDevices) add(kind domain.SourceKind, tracks ...ports.AudioTrack) *fakeDeviceStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := &fakeDeviceStream{tracks: tracks}
	f.streams[kind] = append(f.streams[kind], stream)
	return stream
}

func (f *fakeDevices) Acquire(_ context.Context, kind domain.SourceKind, _ ports.AudioConfig) (ports.DeviceStream, error) {
	f.mu.Lock()
	entered, gate := f.entered, f.gate
	f.mu.Unlock()
	if entered != nil {
		entered <- kind
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	queue := f.streams[kind]
	if len(queue) == 0 {
		return nil, errors.New("no device stream configured")
	}
	f.streams[kind] = queue[1:]
	return queue[0], nil
}

type fakeTranscriptionSocket struct {
	mu         sync.Mutex
	frames     [][]byte
	endCalls   int
	closeCalls int
	closed     bool
	autoDone   bool
	err        error

	// endReplies are delivered after end and before done.
	endReplies []protocol.TranscriptionMessage

	messages chan protocol.TranscriptionMessage
	done     chan struct{}
}

func newFakeTranscriptionSocket(autoDone bool) *fakeTranscriptionSocket {
	return &fakeTranscriptionSocket{
		autoDone: autoDone,
		messages: make(chan protocol.TranscriptionMessage, 64),
		done:     make(chan struct{}),
	}
}

func (s *fakeTranscriptionSocket) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSocketNotOpen
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *fakeTranscriptionSocket) SendEnd() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSocketNotOpen
	}
	s.endCalls++
	for _, msg := range s.endReplies {
		s.messages <- msg
	}
	if s.autoDone {
		s.messages <- protocol.Done{}
	}
	return nil
}

func (s *fakeTranscriptionSocket) push(msgs ...protocol.TranscriptionMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		if !s.closed {
			s.messages <- msg
		}
	}
}

func (s *fakeTranscriptionSocket) Messages() <-chan protocol.TranscriptionMessage { return s.messages }

func (s *fakeTranscriptionSocket) Done() <-chan struct{} { return s.done }

func (s *fakeTranscriptionSocket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeTranscriptionSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closeLocked()
	return nil
}

// fail simulates the server dropping the connection.
func (s *fakeTranscriptionSocket) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.closeLocked()
}

func (s *fakeTranscriptionSocket) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.messages)
	close(s.done)
}

func (s *fakeTranscriptionSocket) snapshot() (frames [][]byte, ends, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...), s.endCalls, s.closeCalls
}

type fakeTranscriptionProvider struct {
	mu      sync.Mutex
	sockets []*fakeTranscriptionSocket
	configs []ports.TranscriptionConfig
	err     error
}

func (f *fakeTranscriptionProvider) OpenTranscription(_ context.Context, cfg ports.TranscriptionConfig) (ports.TranscriptionSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.configs) >= len(f.sockets) {
		return nil, errors.New("no transcription socket configured")
	}
	socket := f.sockets[len(f.configs)]
	f.configs = append(f.configs, cfg)
	return socket, nil
}

func (f *fakeTranscriptionProvider) opened() []ports.TranscriptionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.TranscriptionConfig(nil), f.configs...)
}

// fakeTranslationSocket answers every translate request the way the service
// does: the text upper-cased, tagged with the request mode.
type fakeTranslationSocket struct {
	mu         sync.Mutex
	open       bool
	sent       []protocol.TranslationRequest
	closeCalls int
	closed     bool
	silent     bool

	opened   chan struct{}
	messages chan protocol.TranslationMessage
	done     chan struct{}
}

func newFakeTranslationSocket(open bool) *fakeTranslationSocket {
	s := &fakeTranslationSocket{
		opened:   make(chan struct{}),
		messages: make(chan protocol.TranslationMessage, 256),
		done:     make(chan struct{}),
	}
	if open {
		s.markOpen()
	}
	return s
}

func (s *fakeTranslationSocket) markOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	close(s.opened)
}

func (s *fakeTranslationSocket) Send(msg protocol.TranslationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.closed {
		return domain.ErrSocketNotOpen
	}
	s.sent = append(s.sent, msg)
	if msg.IsTranslate() && !s.silent {
		s.messages <- protocol.Translated{Text: strings.ToUpper(msg.Text), Mode: msg.Mode}
	}
	return nil
}

func (s *fakeTranslationSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && !s.closed
}

func (s *fakeTranslationSocket) Opened() <-chan struct{} { return s.opened }

func (s *fakeTranslationSocket) Messages() <-chan protocol.TranslationMessage { return s.messages }

func (s *fakeTranslationSocket) Done() <-chan struct{} { return s.done }

func (s *fakeTranslationSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closeLocked()
	return nil
}

func (s *fakeTranslationSocket) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.messages)
	close(s.done)
}

func (s *fakeTranslationSocket) requests() []protocol.TranslationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.TranslationRequest(nil), s.sent...)
}

func (s *fakeTranslationSocket) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type fakeTranslationProvider struct {
	mu      sync.Mutex
	sockets []*fakeTranslationSocket
	configs []ports.TranslationConfig
}

func (f *fakeTranslationProvider) OpenTranslation(_ context.Context, cfg ports.TranslationConfig) (ports.TranslationSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.configs) >= len(f.sockets) {
		return nil, errors.New("no translation socket configured")
	}
	socket := f.sockets[len(f.configs)]
	f.configs = append(f.configs, cfg)
	return socket, nil
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu           sync.Mutex
	states       []stateEvent
	transcripts  []string
	languages    []string
	translations []string
	errors       []errorEvent
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeEventSink) DetectedLanguageChanged(lang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = append(f.languages, lang)
}

func (f *fakeEventSink) TranslationUpdated(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translations = append(f.translations, text)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errorEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotLanguages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.languages...)
}

func (f *fakeEventSink) lastTranscript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transcripts) == 0 {
		return ""
	}
	return f.transcripts[len(f.transcripts)-1]
}

func (f *fakeEventSink) lastTranslation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.translations) == 0 {
		return ""
	}
	return f.translations[len(f.translations)-1]
}

func (f *fakeEventSink) countState(state domain.SessionState) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.states {
		if ev.state == state {
			n++
		}
	}
	return n
}

type fakeArchiveStore struct {
	mu    sync.Mutex
	saved []domain.SessionSummary
	err   error
}

func (f *fakeArchiveStore) Save(_ context.Context, summary domain.SessionSummary, archive domain.AudioArchive) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, summary)
	return "/archive/" + archive.SessionID + ".wav", nil
}

func (f *fakeArchiveStore) List(_ context.Context, _ int) ([]domain.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionSummary(nil), f.saved...), nil
}
