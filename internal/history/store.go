// Package history persists finished dictation sessions and their state
// transitions. The clipboard delivery mode reads its aggregate text from
// here, so the store is on the session hot path, not just an audit log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scribelabs/scribe-core/internal/config"
)

// SessionRecord is one dictation session's final (or latest) state.
type SessionRecord struct {
	ID        string
	Channel   string
	State     string
	Language  string
	RawText   string
	Text      string
	NoSpeech  bool
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition is one recorded state change within a session.
type Transition struct {
	ID        int64
	SessionID string
	State     string
	Detail    string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed session history. In ephemeral mode nothing
// touches disk; a small in-memory buffer still serves transcript
// aggregation.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time

	mu     sync.Mutex
	recent map[string][]string // channel -> completed texts, ephemeral mode only
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now, recent: make(map[string][]string)}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    channel TEXT NOT NULL,
    state TEXT NOT NULL,
    language TEXT,
    raw_text TEXT,
    text TEXT,
    no_speech INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_channel_created ON sessions(channel, created_at);
CREATE TABLE IF NOT EXISTS transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    state TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transitions_session_created ON transitions(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSession upserts a session row. Called on creation and again on every
// material update, so the row always reflects the latest known state.
func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) error {
	if s.db == nil {
		s.recordEphemeral(rec)
		return nil
	}
	now := s.clock().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, channel, state, language, raw_text, text, no_speech, error, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   state=excluded.state, language=excluded.language, raw_text=excluded.raw_text,
		   text=excluded.text, no_speech=excluded.no_speech, error=excluded.error,
		   updated_at=excluded.updated_at`,
		rec.ID, rec.Channel, rec.State, rec.Language, rec.RawText, rec.Text,
		boolInt(rec.NoSpeech), rec.Error, rec.CreatedAt, now)
	return err
}

func (s *Store) recordEphemeral(rec SessionRecord) {
	if rec.Text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := append(s.recent[rec.Channel], rec.Text)
	if max := s.cfg.MaxSessions; max > 0 && len(texts) > max {
		texts = texts[len(texts)-max:]
	}
	s.recent[rec.Channel] = texts
}

// RecordTransition appends one state change to the session timeline.
func (s *Store) RecordTransition(ctx context.Context, sessionID, state, detail string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions(session_id, state, detail, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, state, detail, s.clock().UTC())
	return err
}

// Session fetches one record by ID. found is false when no row exists.
func (s *Store) Session(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	if s.db == nil {
		return SessionRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, channel, state, language, raw_text, text, no_speech, error, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// ListTransitions returns a session's state changes oldest first.
func (s *Store) ListTransitions(ctx context.Context, sessionID string, limit int) ([]Transition, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, state, detail, created_at
		 FROM transitions WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var created string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.State, &t.Detail, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// ChannelTranscript joins the completed texts of a channel's sessions oldest
// first, one line per session. limit bounds how many sessions contribute.
func (s *Store) ChannelTranscript(ctx context.Context, channel string, limit int) (string, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		texts := s.recent[channel]
		if limit > 0 && len(texts) > limit {
			texts = texts[len(texts)-limit:]
		}
		return strings.Join(texts, "\n"), nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM (
		   SELECT text, created_at FROM sessions
		   WHERE channel = ? AND state = 'complete' AND text != ''
		   ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`, channel, limit)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strings.Join(texts, "\n"), nil
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM transitions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var noSpeech int
	var created, updated string
	err := row.Scan(&rec.ID, &rec.Channel, &rec.State, &rec.Language, &rec.RawText,
		&rec.Text, &noSpeech, &rec.Error, &created, &updated)
	if err != nil {
		return rec, err
	}
	rec.NoSpeech = noSpeech != 0
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}
