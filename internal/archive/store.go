// Package archive keeps finished sessions: the WAV recording on disk and the
// transcript, translation and metadata in SQLite.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"livescribe/internal/domain"
)

// ErrNotFound is returned by Get for an unknown session.
var ErrNotFound = errors.New("archived session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	input_lang TEXT NOT NULL,
	detected_lang TEXT,
	transcript TEXT NOT NULL,
	translation TEXT,
	target_lang TEXT,
	audio_path TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions(started_at);
`

// Record is one archived session.
type Record struct {
	ID       string        `json:"id"`
	Duration time.Duration `json:"duration"`
	domain.SessionSummary
}

// Store implements ports.ArchiveStore.
type Store struct {
	db  *sql.DB
	dir string
}

// DefaultDir returns the default archive directory.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "livescribe", "archive")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".livescribe", "archive")
}

// Open opens (and migrates) the session database at dsn. Recordings are
// written under dir; an empty dir keeps only the metadata.
func Open(ctx context.Context, dsn, dir string) (*Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	if dsn == "" {
		dsn = filepath.Join(dir, "sessions.sqlite")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db, dir: dir}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the recording and the session row. It returns the recording
// path, or "" when nothing was written to disk.
func (s *Store) Save(ctx context.Context, summary domain.SessionSummary, archive domain.AudioArchive) (string, error) {
	if summary.SessionID == "" {
		return "", errors.New("session id is required")
	}

	path, err := s.writeRecording(summary.SessionID, archive.Data)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, session_id, source, input_lang, detected_lang, transcript,
			translation, target_lang, audio_path, duration_ms, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(),
		summary.SessionID,
		string(summary.Source),
		summary.InputLanguage,
		nullString(summary.DetectedLanguage),
		summary.Transcript,
		nullString(summary.Translation),
		nullString(summary.TargetLanguage),
		nullString(path),
		archive.Duration.Milliseconds(),
		summary.StartedAt.UnixMilli(),
		summary.EndedAt.UnixMilli(),
	)
	if err != nil {
		if path != "" {
			_ = os.Remove(path)
		}
		return "", fmt.Errorf("insert session: %w", err)
	}
	return path, nil
}

func (s *Store) writeRecording(sessionID string, data []byte) (string, error) {
	if s.dir == "" || len(data) == 0 {
		return "", nil
	}
	path := filepath.Join(s.dir, sessionID+".wav")
	tmp, err := os.CreateTemp(s.dir, sessionID+"-*.wav.tmp")
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write recording: %w", err)
	}
	return path, nil
}

// List returns the most recent sessions first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	records, err := s.Records(ctx, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.SessionSummary, len(records))
	for i, r := range records {
		summaries[i] = r.SessionSummary
	}
	return summaries, nil
}

// Records is List with the archive metadata attached.
func (s *Store) Records(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRecord+`
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns the archived session with the given session id.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE session_id = ?`, sessionID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return r, err
}

const selectRecord = `
	SELECT id, session_id, source, input_lang, detected_lang, transcript,
		translation, target_lang, audio_path, duration_ms, started_at, ended_at
	FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var source string
	var detected, translation, target, path sql.NullString
	var durationMS, startedAt, endedAt int64

	if err := row.Scan(&r.ID, &r.SessionID, &source, &r.InputLanguage, &detected, &r.Transcript,
		&translation, &target, &path, &durationMS, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan session: %w", err)
	}

	r.Source = domain.SourceKind(source)
	r.DetectedLanguage = detected.String
	r.Translation = translation.String
	r.TargetLanguage = target.String
	r.AudioPath = path.String
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.StartedAt = time.UnixMilli(startedAt)
	r.EndedAt = time.UnixMilli(endedAt)
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
