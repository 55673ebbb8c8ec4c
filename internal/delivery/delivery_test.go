package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocalTypeModeRunsCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "typed.txt")
	cfg := config.DeliveryConfig{
		Mode:        "type",
		TypeCommand: "sh -c 'cat > " + out + "'",
	}
	l, err := NewLocal(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	err = l.Deliver(context.Background(), Outcome{SessionID: "s1", Channel: "desktop", Text: "hello world"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read typed output: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("typed %q", data)
	}
}

func TestLocalClipboardModeCopiesAggregate(t *testing.T) {
	store, err := history.Open(context.Background(),
		config.HistoryConfig{RetentionMode: "ephemeral", MaxSessions: 10}, testLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	ctx := context.Background()
	for _, text := range []string{"first", "second"} {
		rec := history.SessionRecord{ID: text, Channel: "desktop", State: "complete", Text: text}
		if err := store.RecordSession(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	out := filepath.Join(t.TempDir(), "clipboard.txt")
	cfg := config.DeliveryConfig{
		Mode:             "clipboard",
		ClipboardCommand: "sh -c 'cat > " + out + "'",
	}
	l, err := NewLocal(cfg, store, testLogger())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	err = l.Deliver(ctx, Outcome{SessionID: "second", Channel: "desktop", Text: "second"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read clipboard output: %v", err)
	}
	if string(data) != "first\nsecond" {
		t.Fatalf("clipboard got %q", data)
	}
}

func TestLocalSkipsErrorAndNoSpeech(t *testing.T) {
	cfg := config.DeliveryConfig{Mode: "type", TypeCommand: "false"}
	l, err := NewLocal(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	// neither outcome may run the command, which would fail
	if err := l.Deliver(context.Background(), Outcome{Err: errors.New("boom")}); err != nil {
		t.Fatalf("error outcome: %v", err)
	}
	if err := l.Deliver(context.Background(), Outcome{NoSpeech: true}); err != nil {
		t.Fatalf("no-speech outcome: %v", err)
	}
}

func TestRemoteStatusMapping(t *testing.T) {
	var sent []protocol.StatusMessage
	r := NewRemote(func(ctx context.Context, msg protocol.StatusMessage) error {
		sent = append(sent, msg)
		return nil
	}, testLogger())

	r.Notify(context.Background(), "s1")
	if err := r.Deliver(context.Background(), Outcome{Text: "done"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := r.Deliver(context.Background(), Outcome{NoSpeech: true}); err != nil {
		t.Fatalf("deliver no-speech: %v", err)
	}
	if err := r.Deliver(context.Background(), Outcome{Err: errors.New("model offline")}); err != nil {
		t.Fatalf("deliver error: %v", err)
	}

	if len(sent) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(sent))
	}
	if sent[0].Status != protocol.StatusProcessing {
		t.Fatalf("expected processing first, got %+v", sent[0])
	}
	if sent[1].Status != protocol.StatusComplete || sent[1].Text != "done" {
		t.Fatalf("unexpected complete message: %+v", sent[1])
	}
	if sent[2].Status != protocol.StatusComplete || sent[2].Text != "" || sent[2].Message != "No speech detected" {
		t.Fatalf("unexpected no-speech message: %+v", sent[2])
	}
	if sent[3].Status != protocol.StatusError || sent[3].Message != "model offline" {
		t.Fatalf("unexpected error message: %+v", sent[3])
	}
}
