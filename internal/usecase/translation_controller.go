package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
	"livescribe/internal/protocol"
	"livescribe/internal/translation"
)

const (
	defaultCloseGrace = 1500 * time.Millisecond
	flushPollInterval = 20 * time.Millisecond
)

// TranslationConfig controls the live translation view.
type TranslationConfig struct {
	RetranslateInterval int
	CloseGrace          time.Duration
}

// TranslationController keeps a live translation of the session transcript
// while the translation view is enabled.
type TranslationController struct {
	provider ports.TranslationProvider
	events   ports.EventSink
	cfg      TranslationConfig
	logger   *zap.Logger

	mu         sync.Mutex
	active     *translationSession
	transcript string
	lastText   string
	lastTarget string
}

type translationSession struct {
	socket ports.TranslationSocket
	buffer *translation.Buffer
	done   chan struct{}

	// guarded by TranslationController.mu
	inputLanguage  string
	targetLanguage string
	ready          bool
}

func NewTranslationController(provider ports.TranslationProvider, events ports.EventSink, cfg TranslationConfig, logger *zap.Logger) *TranslationController {
	if cfg.RetranslateInterval <= 0 {
		cfg.RetranslateInterval = translation.DefaultRetranslateInterval
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranslationController{provider: provider, events: events, cfg: cfg, logger: logger}
}

// Enable opens the translation socket. When translation is already enabled it
// behaves like SetLanguages.
func (c *TranslationController) Enable(ctx context.Context, inputLanguage, targetLanguage string) error {
	inputLanguage = strings.TrimSpace(inputLanguage)
	targetLanguage = strings.TrimSpace(targetLanguage)
	if targetLanguage == "" {
		return errors.New("target language is required")
	}
	if c.Enabled() {
		return c.SetLanguages(inputLanguage, targetLanguage)
	}

	socket, err := c.provider.OpenTranslation(context.WithoutCancel(ctx), ports.TranslationConfig{
		InputLanguage:  inputLanguage,
		TargetLanguage: targetLanguage,
	})
	if err != nil {
		c.events.SessionError(domain.ErrorCodeTranslation, err.Error())
		return err
	}

	session := &translationSession{
		socket:         socket,
		buffer:         translation.NewBuffer(socket, c.cfg.RetranslateInterval, c.logger),
		done:           make(chan struct{}),
		inputLanguage:  inputLanguage,
		targetLanguage: targetLanguage,
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		_ = socket.Close()
		return c.SetLanguages(inputLanguage, targetLanguage)
	}
	c.active = session
	c.lastText = ""
	c.lastTarget = targetLanguage
	c.mu.Unlock()

	c.logger.Info("translation enabled", zap.String("lang", inputLanguage), zap.String("target", targetLanguage))
	go c.run(session)
	return nil
}

// SetLanguages switches languages on the open socket. Accumulated text is
// kept; the service continues from its context.
func (c *TranslationController) SetLanguages(inputLanguage, targetLanguage string) error {
	inputLanguage = strings.TrimSpace(inputLanguage)
	targetLanguage = strings.TrimSpace(targetLanguage)
	if targetLanguage == "" {
		return errors.New("target language is required")
	}

	c.mu.Lock()
	session := c.active
	if session == nil {
		c.mu.Unlock()
		return domain.ErrTranslationOff
	}
	session.inputLanguage = inputLanguage
	session.targetLanguage = targetLanguage
	c.lastTarget = targetLanguage
	ready := session.ready
	c.mu.Unlock()

	if !ready {
		// the init request sent on open carries the new languages
		return nil
	}
	if err := session.socket.Send(protocol.ChangeLangRequest(inputLanguage, targetLanguage)); err != nil {
		if errors.Is(err, domain.ErrSocketNotOpen) {
			c.logger.Warn("translation socket not open, language change dropped")
			return nil
		}
		return fmt.Errorf("failed to change translation languages: %w", err)
	}
	return nil
}

// OnTranscript feeds the latest transcript to the translation buffer.
func (c *TranslationController) OnTranscript(text string) {
	c.mu.Lock()
	c.transcript = text
	session := c.active
	ready := session != nil && session.ready
	c.mu.Unlock()

	if ready {
		session.buffer.OnTranscript(text)
	}
}

// OnSessionStarted starts following a fresh transcript.
func (c *TranslationController) OnSessionStarted() {
	c.mu.Lock()
	c.transcript = ""
	c.lastText = ""
	session := c.active
	c.mu.Unlock()

	if session != nil {
		session.buffer.Restart()
		c.events.TranslationUpdated("")
	}
}

// Disable sends a last refresh for words not yet covered by one, gives the
// service a grace period to answer and closes the socket.
func (c *TranslationController) Disable(ctx context.Context) error {
	c.mu.Lock()
	session := c.active
	c.active = nil
	c.mu.Unlock()

	if session == nil {
		return domain.ErrTranslationOff
	}

	if session.buffer.Flush() {
		c.awaitResponses(ctx, session.buffer)
	}

	err := session.socket.Close()
	<-session.done

	c.mu.Lock()
	c.lastText = session.buffer.Text()
	c.mu.Unlock()

	c.logger.Info("translation disabled")
	return err
}

func (c *TranslationController) awaitResponses(ctx context.Context, buffer *translation.Buffer) {
	deadline := time.NewTimer(c.cfg.CloseGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for buffer.Pending() > 0 {
		select {
		case <-ticker.C:
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *TranslationController) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// TranslationSnapshot returns the current (or last) translation and its target.
func (c *TranslationController) TranslationSnapshot() (string, string) {
	c.mu.Lock()
	session := c.active
	text, target := c.lastText, c.lastTarget
	c.mu.Unlock()

	if session != nil {
		text = session.buffer.Text()
	}
	return text, target
}

func (c *TranslationController) run(session *translationSession) {
	defer close(session.done)

	select {
	case <-session.socket.Opened():
		c.mu.Lock()
		input, target := session.inputLanguage, session.targetLanguage
		c.mu.Unlock()

		if err := session.socket.Send(protocol.InitRequest(input, target)); err != nil {
			c.logger.Warn("failed to send translation init", zap.Error(err))
		}

		c.mu.Lock()
		session.ready = true
		text := c.transcript
		c.mu.Unlock()
		session.buffer.OnTranscript(text)
	case <-session.socket.Done():
	}

	for msg := range session.socket.Messages() {
		text, changed, err := session.buffer.OnMessage(msg)
		if err != nil {
			c.events.SessionError(domain.ErrorCodeTranslation, err.Error())
			continue
		}
		if changed {
			c.events.TranslationUpdated(text)
		}
	}

	c.mu.Lock()
	unexpected := c.active == session
	if unexpected {
		c.active = nil
		c.lastText = session.buffer.Text()
	}
	c.mu.Unlock()

	if unexpected {
		c.logger.Warn("translation socket closed while enabled")
		c.events.SessionError(domain.ErrorCodeTranslation, "translation connection closed")
	}
}
