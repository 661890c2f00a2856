package translation

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"livescribe/internal/domain"
	"livescribe/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	open bool
	sent []protocol.TranslationRequest
}

func (f *fakeSender) Send(msg protocol.TranslationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return domain.ErrSocketNotOpen
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSender) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

func (f *fakeSender) requests(mode domain.TranslationMode) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, req := range f.sent {
		if req.Mode == mode {
			out = append(out, req.Text)
		}
	}
	return out
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i+1)
	}
	return strings.Join(parts, " ")
}

func TestIncrementalRequestPerNewWord(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 0, zap.NewNop())

	buf.OnTranscript("hello")
	buf.OnTranscript("hello big")
	buf.OnTranscript("hello big world")
	buf.OnTranscript("hello big world")

	assert.Equal(t, []string{"hello", "big", "world"}, sender.requests(domain.TranslationIncremental))
	assert.Empty(t, sender.requests(domain.TranslationRefresh))
	assert.Equal(t, 3, buf.SentWords())
	assert.Equal(t, 3, buf.Pending())
}

func TestRefreshPerCompletedGroup(t *testing.T) {
	t.Parallel()

	for _, n := range []int{10, 20, 30} {
		n := n
		t.Run(fmt.Sprintf("%d words", n), func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{open: true}
			buf := NewBuffer(sender, DefaultRetranslateInterval, nil)

			all := strings.Fields(words(n))
			for i := 1; i <= n; i++ {
				buf.OnTranscript(strings.Join(all[:i], " "))
			}

			refreshes := sender.requests(domain.TranslationRefresh)
			require.Len(t, refreshes, n/10)
			for g, text := range refreshes {
				assert.Equal(t, strings.Join(all[g*10:(g+1)*10], " "), text)
			}
			assert.Len(t, sender.requests(domain.TranslationIncremental), n)
		})
	}
}

func TestNoRefreshForPartialGroup(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 10, nil)
	buf.OnTranscript(words(17))

	refreshes := sender.requests(domain.TranslationRefresh)
	require.Len(t, refreshes, 1)
	assert.Equal(t, words(10), refreshes[0])
}

func TestFlushAfterSevenWordsSendsOneRefresh(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 10, nil)
	buf.OnTranscript(words(7))

	assert.True(t, buf.Flush())
	assert.False(t, buf.Flush())

	refreshes := sender.requests(domain.TranslationRefresh)
	require.Len(t, refreshes, 1)
	assert.Equal(t, words(7), refreshes[0])
}

func TestFlushWithNothingUnflushedSendsNothing(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 10, nil)
	assert.False(t, buf.Flush())

	buf.OnTranscript(words(10))
	assert.False(t, buf.Flush())
	assert.Len(t, sender.requests(domain.TranslationRefresh), 1)
}

func TestClosedSocketDefersWords(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	buf := NewBuffer(sender, 10, nil)

	buf.OnTranscript("bonjour le")
	assert.Empty(t, sender.sent)
	assert.Zero(t, buf.SentWords())
	assert.False(t, buf.Flush())

	sender.setOpen(true)
	buf.OnTranscript("bonjour le monde")
	assert.Equal(t, []string{"bonjour", "le", "monde"}, sender.requests(domain.TranslationIncremental))
}

func TestIncrementalResultsAppend(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 10, nil)
	buf.OnTranscript("bonjour le monde")

	for _, word := range []string{"hello", "the", "world"} {
		_, changed, err := buf.OnMessage(protocol.Translated{Text: word, Mode: domain.TranslationIncremental})
		require.NoError(t, err)
		assert.True(t, changed)
	}
	assert.Equal(t, "hello the world", buf.Text())
	assert.Zero(t, buf.Pending())
}

func TestRefreshResultReplacesItsGroup(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 2, nil)
	buf.OnTranscript("je suis content")

	// requests: inc je, inc suis, refresh "je suis", inc content
	replies := []protocol.Translated{
		{Text: "I", Mode: domain.TranslationIncremental},
		{Text: "follow", Mode: domain.TranslationIncremental},
	}
	for _, reply := range replies {
		_, _, err := buf.OnMessage(reply)
		require.NoError(t, err)
	}
	assert.Equal(t, "I follow", buf.Text())

	text, changed, err := buf.OnMessage(protocol.Translated{Text: "I am", Mode: domain.TranslationRefresh})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "I am", text)

	text, _, err = buf.OnMessage(protocol.Translated{Text: "happy", Mode: domain.TranslationIncremental})
	require.NoError(t, err)
	assert.Equal(t, "I am happy", text)
}

func TestRefreshArrivingAfterLaterIncrementals(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 2, nil)
	buf.OnTranscript("a b c d e")
	// inc a, inc b, ref g0, inc c, inc d, ref g1, inc e

	for _, text := range []string{"A", "B"} {
		buf.OnMessage(protocol.Translated{Text: text, Mode: domain.TranslationIncremental})
	}
	buf.OnMessage(protocol.Translated{Text: "AB", Mode: domain.TranslationRefresh})
	buf.OnMessage(protocol.Translated{Text: "C", Mode: domain.TranslationIncremental})
	buf.OnMessage(protocol.Translated{Text: "D", Mode: domain.TranslationIncremental})
	assert.Equal(t, "AB C D", buf.Text())

	buf.OnMessage(protocol.Translated{Text: "CD", Mode: domain.TranslationRefresh})
	buf.OnMessage(protocol.Translated{Text: "E", Mode: domain.TranslationIncremental})
	assert.Equal(t, "AB CD E", buf.Text())

	require.True(t, buf.Flush())
	text, _, _ := buf.OnMessage(protocol.Translated{Text: "E!", Mode: domain.TranslationRefresh})
	assert.Equal(t, "AB CD E!", text)
}

func TestServerErrorConsumesRequest(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 10, nil)
	buf.OnTranscript("un deux")

	text, changed, err := buf.OnMessage(protocol.ServerError{Message: "rate limited"})
	require.EqualError(t, err, "rate limited")
	assert.False(t, changed)
	assert.Empty(t, text)

	text, _, err = buf.OnMessage(protocol.Translated{Text: "two", Mode: domain.TranslationIncremental})
	require.NoError(t, err)
	assert.Equal(t, "two", text)
	assert.Zero(t, buf.Pending())
}

func TestUnsolicitedResultIsIgnored(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(&fakeSender{open: true}, 10, nil)
	text, changed, err := buf.OnMessage(protocol.Translated{Text: "ghost", Mode: domain.TranslationIncremental})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, text)
}

func TestRestartDiscardsInFlightResults(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{open: true}
	buf := NewBuffer(sender, 10, nil)
	buf.OnTranscript("old words")
	buf.OnMessage(protocol.Translated{Text: "old", Mode: domain.TranslationIncremental})

	buf.Restart()
	assert.Empty(t, buf.Text())
	assert.Zero(t, buf.SentWords())

	buf.OnTranscript("new")
	text, changed, err := buf.OnMessage(protocol.Translated{Text: "words", Mode: domain.TranslationIncremental})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, text)

	text, _, _ = buf.OnMessage(protocol.Translated{Text: "nouveau", Mode: domain.TranslationIncremental})
	assert.Equal(t, "nouveau", text)
	assert.Equal(t, []string{"old", "words", "new"}, sender.requests(domain.TranslationIncremental))
}
