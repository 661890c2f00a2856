// Package translation keeps a live translation of a growing transcript. Each
// new source word is translated on its own for low latency, and every group
// of RetranslateInterval words is translated again as a whole to correct
// drift from the word-by-word pass.
package translation

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"livescribe/internal/domain"
	"livescribe/internal/protocol"
)

// DefaultRetranslateInterval is the group size for refresh requests.
const DefaultRetranslateInterval = 10

// Sender is the part of a translation socket the buffer writes to.
type Sender interface {
	Send(msg protocol.TranslationRequest) error
	IsOpen() bool
}

type unit struct {
	group int
	text  string
}

type request struct {
	mode  domain.TranslationMode
	group int
	stale bool
}

// Buffer tracks which transcript words have been sent and assembles the
// displayed translation from the responses. Responses carry no request id, so
// they are paired with requests in send order.
type Buffer struct {
	sender   Sender
	interval int
	logger   *zap.Logger

	mu          sync.Mutex
	source      []string
	flushedAt   int
	units       []unit
	outstanding []request
}

func NewBuffer(sender Sender, interval int, logger *zap.Logger) *Buffer {
	if interval <= 0 {
		interval = DefaultRetranslateInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{sender: sender, interval: interval, logger: logger}
}

// OnTranscript sends the words of transcript that were not sent before. When
// the socket is not open the remaining words are left unsent and picked up by
// a later call.
func (b *Buffer) OnTranscript(transcript string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	words := strings.Fields(transcript)
	for i := len(b.source); i < len(words); i++ {
		group := i / b.interval
		if !b.sendLocked(domain.TranslationIncremental, words[i], group) {
			return
		}
		b.source = append(b.source, words[i])

		if len(b.source)%b.interval == 0 {
			window := strings.Join(b.source[len(b.source)-b.interval:], " ")
			b.sendLocked(domain.TranslationRefresh, window, group)
			b.flushedAt = len(b.source)
		}
	}
}

// Flush sends one refresh covering the words sent since the last refresh. It
// reports whether a request was sent; with no such words nothing is sent.
func (b *Buffer) Flush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushedAt >= len(b.source) {
		return false
	}
	window := strings.Join(b.source[b.flushedAt:], " ")
	if !b.sendLocked(domain.TranslationRefresh, window, b.flushedAt/b.interval) {
		return false
	}
	b.flushedAt = len(b.source)
	return true
}

func (b *Buffer) sendLocked(mode domain.TranslationMode, text string, group int) bool {
	if !b.sender.IsOpen() {
		b.logger.Warn("translation socket not open, dropping request", zap.String("mode", string(mode)))
		return false
	}
	if err := b.sender.Send(protocol.TranslateRequest(mode, text)); err != nil {
		if !errors.Is(err, domain.ErrSocketNotOpen) {
			b.logger.Warn("translation request failed", zap.String("mode", string(mode)), zap.Error(err))
		}
		return false
	}
	b.outstanding = append(b.outstanding, request{mode: mode, group: group})
	return true
}

// OnMessage applies one server message and returns the displayed translation
// and whether it changed. Server errors consume their request and are
// returned as an error; the display is left as it was.
func (b *Buffer) OnMessage(msg protocol.TranslationMessage) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.popLocked()
	switch m := msg.(type) {
	case protocol.ServerError:
		return b.textLocked(), false, errors.New(m.Message)
	case protocol.Translated:
		if ok && req.stale {
			return b.textLocked(), false, nil
		}
		if !ok {
			b.logger.Warn("translation result without an outstanding request", zap.String("mode", string(m.Mode)))
			return b.textLocked(), false, nil
		}
		if m.Mode != req.mode {
			b.logger.Debug("translation mode differs from request", zap.String("got", string(m.Mode)), zap.String("want", string(req.mode)))
		}
		before := b.textLocked()
		text := strings.TrimSpace(m.Text)
		if req.mode == domain.TranslationRefresh {
			b.spliceLocked(req.group, text)
		} else {
			b.units = append(b.units, unit{group: req.group, text: text})
		}
		after := b.textLocked()
		return after, after != before, nil
	default:
		return b.textLocked(), false, nil
	}
}

func (b *Buffer) popLocked() (request, bool) {
	if len(b.outstanding) == 0 {
		return request{}, false
	}
	req := b.outstanding[0]
	b.outstanding = b.outstanding[1:]
	return req, true
}

// spliceLocked replaces every unit of group with one refreshed unit at the
// position of the first one it replaces.
func (b *Buffer) spliceLocked(group int, text string) {
	at := -1
	kept := b.units[:0]
	for _, u := range b.units {
		if u.group == group {
			if at < 0 {
				at = len(kept)
			}
			continue
		}
		kept = append(kept, u)
	}
	if at < 0 {
		at = len(kept)
	}

	refreshed := unit{group: group, text: text}
	kept = append(kept, unit{})
	copy(kept[at+1:], kept[at:])
	kept[at] = refreshed
	b.units = kept
}

// Restart forgets the transcript and translation so a new transcript can be
// followed on the same socket. Responses to requests already in flight are
// discarded when they arrive.
func (b *Buffer) Restart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.outstanding {
		b.outstanding[i].stale = true
	}
	b.source = nil
	b.flushedAt = 0
	b.units = nil
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.textLocked()
}

func (b *Buffer) textLocked() string {
	parts := make([]string, 0, len(b.units))
	for _, u := range b.units {
		if u.text != "" {
			parts = append(parts, u.text)
		}
	}
	return strings.Join(parts, " ")
}

// Pending reports the number of requests still awaiting a response.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outstanding)
}

// SentWords reports how many transcript words have been sent.
func (b *Buffer) SentWords() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.source)
}
