package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

type archiveFinalizer struct {
	store  ports.ArchiveStore
	events ports.EventSink
	logger *zap.Logger
}

func newArchiveFinalizer(store ports.ArchiveStore, events ports.EventSink, logger *zap.Logger) archiveFinalizer {
	return archiveFinalizer{store: store, events: events, logger: logger}
}

// Finalize keeps the finished session in the archive store. A failed save is
// reported but the recording is still returned to the caller.
func (f archiveFinalizer) Finalize(ctx context.Context, summary domain.SessionSummary, archive domain.AudioArchive) domain.AudioArchive {
	if f.store == nil {
		return archive
	}

	path, err := f.store.Save(ctx, summary, archive)
	if err != nil {
		f.logger.Error("failed to archive session", zap.String("session", summary.SessionID), zap.Error(err))
		f.events.SessionError(domain.ErrorCodeArchive, fmt.Sprintf("recording could not be saved: %v", err))
		return archive
	}
	archive.Path = path
	return archive
}
