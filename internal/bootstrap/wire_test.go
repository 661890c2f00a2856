package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livescribe/internal/config"
	"livescribe/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LIVESCRIBE_CONFIG", "")
	t.Setenv("LIVESCRIBE_ARCHIVE__DIR", dir)
	t.Setenv("LIVESCRIBE_LOG__LEVEL", "error")

	services, err := Build(context.Background(), noopEventSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	require.NotNil(t, services.Controller)
	require.NotNil(t, services.Translator)
	require.NotNil(t, services.Archive)
	assert.Equal(t, dir, services.Config.Archive.Dir)
	assert.Equal(t, domain.SessionStateIdle, services.Controller.Status().State)
	assert.False(t, services.Translator.Enabled())

	_, err = os.Stat(filepath.Join(dir, "sessions.sqlite"))
	assert.NoError(t, err)
}

func TestBuildFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("LIVESCRIBE_CONFIG", "")
	t.Setenv("LIVESCRIBE_ARCHIVE__DIR", t.TempDir())
	t.Setenv("LIVESCRIBE_AUDIO__SAMPLE_RATE", "12")

	_, err := Build(context.Background(), noopEventSink{})
	assert.ErrorContains(t, err, "invalid config")
}

func TestBuildFailsWhenArchiveDirIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	t.Setenv("LIVESCRIBE_CONFIG", "")
	t.Setenv("LIVESCRIBE_ARCHIVE__DIR", file)
	t.Setenv("LIVESCRIBE_LOG__LEVEL", "error")

	_, err := Build(context.Background(), noopEventSink{})
	assert.ErrorContains(t, err, "open session archive")
}

func TestBackendConfigCarriesSocketTimings(t *testing.T) {
	t.Setenv("LIVESCRIBE_CONFIG", "")
	t.Setenv("LIVESCRIBE_BACKEND__CLOSE_GRACE", "250ms")
	t.Setenv("LIVESCRIBE_BACKEND__HANDSHAKE_TIMEOUT", "3s")

	cfg, err := config.Load()
	require.NoError(t, err)

	got := backendConfig(cfg.Backend)
	assert.Equal(t, 250*time.Millisecond, got.CloseGrace)
	assert.Equal(t, 3*time.Second, got.HandshakeTimeout)
	assert.Equal(t, "ws://localhost:8000", got.BaseURL)
	assert.Equal(t, "/transcribe", got.TranscribePath)
	assert.Equal(t, "/translate", got.TranslatePath)
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
func (noopEventSink) TranscriptUpdated(_ string)                                             {}
func (noopEventSink) DetectedLanguageChanged(_ string)                                       {}
func (noopEventSink) TranslationUpdated(_ string)                                            {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                              {}
