package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
)

func testStore(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "history.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "session"
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndFetchSession(t *testing.T) {
	s := testStore(t, config.HistoryConfig{})
	ctx := context.Background()

	rec := SessionRecord{ID: "s1", Channel: "desktop", State: "capturing"}
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec.State = "complete"
	rec.Text = "hello world"
	rec.Language = "en"
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, found, err := s.Session(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("fetch: found=%v err=%v", found, err)
	}
	if got.State != "complete" || got.Text != "hello world" || got.Language != "en" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestTransitionsOrdered(t *testing.T) {
	s := testStore(t, config.HistoryConfig{})
	ctx := context.Background()

	if err := s.RecordSession(ctx, SessionRecord{ID: "s1", Channel: "desktop", State: "capturing"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, state := range []string{"capturing", "finalizing", "transcribing", "complete"} {
		if err := s.RecordTransition(ctx, "s1", state, ""); err != nil {
			t.Fatalf("transition %s: %v", state, err)
		}
	}

	transitions, err := s.ListTransitions(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transitions) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(transitions))
	}
	if transitions[0].State != "capturing" || transitions[3].State != "complete" {
		t.Fatalf("transitions out of order: %+v", transitions)
	}
}

func TestChannelTranscriptAggregation(t *testing.T) {
	s := testStore(t, config.HistoryConfig{})
	ctx := context.Background()

	now := time.Now()
	times := []time.Time{now, now.Add(time.Second), now.Add(2 * time.Second)}
	i := 0
	s.clock = func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}

	texts := []string{"first line", "second line", "third line"}
	for n, text := range texts {
		rec := SessionRecord{
			ID: "s" + string(rune('1'+n)), Channel: "desktop",
			State: "complete", Text: text, CreatedAt: times[n],
		}
		if err := s.RecordSession(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.RecordSession(ctx, SessionRecord{ID: "x", Channel: "other", State: "complete", Text: "unrelated"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.ChannelTranscript(ctx, "desktop", 10)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	want := "first line\nsecond line\nthird line"
	if got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

func TestEphemeralModeKeepsRecentTexts(t *testing.T) {
	s := testStore(t, config.HistoryConfig{RetentionMode: "ephemeral", MaxSessions: 2})
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := s.RecordSession(ctx, SessionRecord{ID: text, Channel: "desktop", State: "complete", Text: text}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.ChannelTranscript(ctx, "desktop", 0)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if got != "two\nthree" {
		t.Fatalf("transcript = %q", got)
	}
}

func TestPruneByMaxSessions(t *testing.T) {
	s := testStore(t, config.HistoryConfig{MaxSessions: 1})
	ctx := context.Background()

	base := time.Now()
	s.clock = func() time.Time { return base }
	if err := s.RecordSession(ctx, SessionRecord{ID: "old", Channel: "desktop", State: "complete", Text: "old", CreatedAt: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSession(ctx, SessionRecord{ID: "new", Channel: "desktop", State: "complete", Text: "new", CreatedAt: base}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, found, err := s.Session(ctx, "old"); err != nil || found {
		t.Fatalf("expected old session pruned, found=%v err=%v", found, err)
	}
	if _, found, err := s.Session(ctx, "new"); err != nil || !found {
		t.Fatalf("expected new session kept, found=%v err=%v", found, err)
	}
}
