package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"livescribe/internal/domain"
	"livescribe/internal/metrics"
	"livescribe/internal/ports"
	"livescribe/internal/protocol"
	"livescribe/internal/socket"
)

// Config locates the transcription and translation services.
type Config struct {
	BaseURL          string
	TranscribePath   string
	TranslatePath    string
	HandshakeTimeout time.Duration
	CloseGrace       time.Duration
}

// Provider opens sockets to the speech backend. It implements both
// ports.TranscriptionProvider and ports.TranslationProvider.
type Provider struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewProvider(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "ws://localhost:8000"
	}
	if cfg.TranscribePath == "" {
		cfg.TranscribePath = "/transcribe"
	}
	if cfg.TranslatePath == "" {
		cfg.TranslatePath = "/translate"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger, metrics: m}
}

func (p *Provider) OpenTranscription(ctx context.Context, cfg ports.TranscriptionConfig) (ports.TranscriptionSocket, error) {
	wsURL, err := buildTranscribeURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	conn := socket.Dial(ctx, socket.Options{
		URL:              wsURL,
		Endpoint:         metrics.EndpointTranscription,
		Policy:           socket.QueuePending,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
		CloseGrace:       p.cfg.CloseGrace,
		Logger:           p.logger,
		Metrics:          p.metrics,
	})

	s := &transcriptionSocket{
		conn:     conn,
		logger:   p.logger.With(zap.String("endpoint", metrics.EndpointTranscription)),
		metrics:  p.metrics,
		messages: make(chan protocol.TranscriptionMessage, 64),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go s.decodeLoop()
	return s, nil
}

func (p *Provider) OpenTranslation(ctx context.Context, cfg ports.TranslationConfig) (ports.TranslationSocket, error) {
	wsURL, err := buildTranslateURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	conn := socket.Dial(ctx, socket.Options{
		URL:              wsURL,
		Endpoint:         metrics.EndpointTranslation,
		Policy:           socket.DropWhenNotOpen,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
		CloseGrace:       p.cfg.CloseGrace,
		Logger:           p.logger,
		Metrics:          p.metrics,
	})

	s := &translationSocket{
		conn:     conn,
		logger:   p.logger.With(zap.String("endpoint", metrics.EndpointTranslation)),
		metrics:  p.metrics,
		messages: make(chan protocol.TranslationMessage, 64),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go s.decodeLoop()
	return s, nil
}

type transcriptionSocket struct {
	conn     *socket.Conn
	logger   *zap.Logger
	metrics  *metrics.Metrics
	messages chan protocol.TranscriptionMessage
	done     chan struct{}
	closing  chan struct{}
	once     sync.Once
}

func (s *transcriptionSocket) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	return s.conn.Send(socket.Frame{Binary: true, Data: frame})
}

func (s *transcriptionSocket) SendEnd() error {
	return s.conn.Send(socket.Frame{Data: protocol.EncodeEnd()})
}

func (s *transcriptionSocket) Messages() <-chan protocol.TranscriptionMessage {
	return s.messages
}

func (s *transcriptionSocket) Done() <-chan struct{} {
	return s.done
}

func (s *transcriptionSocket) Err() error {
	return s.conn.Err()
}

func (s *transcriptionSocket) Close() error {
	s.once.Do(func() { close(s.closing) })
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *transcriptionSocket) decodeLoop() {
	defer close(s.done)
	defer close(s.messages)

	for payload := range s.conn.Incoming() {
		msgs, err := protocol.DecodeTranscription(payload)
		if err != nil {
			s.metrics.ProtocolError(metrics.EndpointTranscription)
			s.logger.Warn("dropping transcription message", zap.Error(err), zap.ByteString("payload", truncate(payload)))
			continue
		}
		for _, msg := range msgs {
			deliver(s.messages, msg, s.closing)
		}
	}
}

type translationSocket struct {
	conn     *socket.Conn
	logger   *zap.Logger
	metrics  *metrics.Metrics
	messages chan protocol.TranslationMessage
	done     chan struct{}
	closing  chan struct{}
	once     sync.Once
}

func (s *translationSocket) Send(msg protocol.TranslationRequest) error {
	payload, err := protocol.EncodeTranslation(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Send(socket.Frame{Data: payload}); err != nil {
		return err
	}
	if msg.IsTranslate() {
		s.metrics.TranslationRequest(string(msg.Mode))
	}
	return nil
}

func (s *translationSocket) IsOpen() bool {
	return s.conn.State() == socket.StateOpen
}

func (s *translationSocket) Opened() <-chan struct{} {
	return s.conn.Opened()
}

func (s *translationSocket) Messages() <-chan protocol.TranslationMessage {
	return s.messages
}

func (s *translationSocket) Done() <-chan struct{} {
	return s.done
}

func (s *translationSocket) Close() error {
	s.once.Do(func() { close(s.closing) })
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *translationSocket) decodeLoop() {
	defer close(s.done)
	defer close(s.messages)

	for payload := range s.conn.Incoming() {
		msg, err := protocol.DecodeTranslation(payload)
		if err != nil {
			s.metrics.ProtocolError(metrics.EndpointTranslation)
			s.logger.Warn("dropping translation message", zap.Error(err), zap.ByteString("payload", truncate(payload)))
			continue
		}
		deliver(s.messages, msg, s.closing)
	}
}

// deliver hands msg to the consumer, giving up once the socket is closing and
// nobody is reading.
func deliver[T any](out chan T, msg T, closing <-chan struct{}) {
	select {
	case out <- msg:
		return
	default:
	}
	select {
	case out <- msg:
	case <-closing:
	}
}

func truncate(payload []byte) []byte {
	const max = 256
	if len(payload) > max {
		return payload[:max]
	}
	return payload
}

func buildTranscribeURL(providerCfg Config, cfg ports.TranscriptionConfig) (string, error) {
	u, err := endpointURL(providerCfg.BaseURL, providerCfg.TranscribePath)
	if err != nil {
		return "", err
	}

	lang := strings.TrimSpace(cfg.InputLanguage)
	if lang == "" {
		lang = domain.AutoLanguage
	}
	query := u.Query()
	query.Set("lang", lang)
	if cfg.SampleRate > 0 {
		query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func buildTranslateURL(providerCfg Config, cfg ports.TranslationConfig) (string, error) {
	u, err := endpointURL(providerCfg.BaseURL, providerCfg.TranslatePath)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.TargetLanguage) == "" {
		return "", errors.New("translation target language is required")
	}

	query := u.Query()
	query.Set("lang", strings.TrimSpace(cfg.InputLanguage))
	query.Set("target", strings.TrimSpace(cfg.TargetLanguage))
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func endpointURL(base, path string) (*url.URL, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid backend base URL %q: scheme must be ws, wss, http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q: missing host", base)
	}
	return u, nil
}
