package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/history"
)

// Local delivers to the desktop: a typing tool (xdotool, wtype, ydotool) or
// a clipboard tool (wl-copy, xclip). The text goes to the command's stdin.
// In clipboard mode the command receives the channel's aggregated
// transcript, not just the newest session.
type Local struct {
	mode         string
	typeCmd      []string
	clipboardCmd []string
	store        *history.Store
	log          *slog.Logger
}

func NewLocal(cfg config.DeliveryConfig, store *history.Store, log *slog.Logger) (*Local, error) {
	parser := shellwords.NewParser()
	l := &Local{mode: cfg.Mode, store: store, log: log}

	if cfg.TypeCommand != "" {
		args, err := parser.Parse(cfg.TypeCommand)
		if err != nil {
			return nil, fmt.Errorf("parse type command: %w", err)
		}
		l.typeCmd = args
	}
	if cfg.ClipboardCommand != "" {
		args, err := parser.Parse(cfg.ClipboardCommand)
		if err != nil {
			return nil, fmt.Errorf("parse clipboard command: %w", err)
		}
		l.clipboardCmd = args
	}
	return l, nil
}

func (l *Local) Notify(ctx context.Context, sessionID string) {
	l.log.Debug("session processing",
		slog.String("component", "delivery"),
		slog.String("session_id", sessionID))
}

func (l *Local) Deliver(ctx context.Context, out Outcome) error {
	if out.Err != nil {
		l.log.Error("session failed, nothing to deliver",
			slog.String("component", "delivery"),
			slog.String("session_id", out.SessionID),
			slog.String("error", out.Err.Error()))
		return nil
	}
	if out.NoSpeech || out.Text == "" {
		l.log.Info("no speech detected, nothing to deliver",
			slog.String("component", "delivery"),
			slog.String("session_id", out.SessionID))
		return nil
	}

	switch l.mode {
	case "clipboard":
		return l.copyAggregate(ctx, out)
	default:
		if err := l.runCommand(ctx, l.typeCmd, out.Text); err != nil {
			return fmt.Errorf("type text: %w", err)
		}
		// clipboard backup mirrors what was typed
		if len(l.clipboardCmd) > 0 {
			if err := l.runCommand(ctx, l.clipboardCmd, out.Text); err != nil {
				l.log.Warn("clipboard backup failed",
					slog.String("component", "delivery"),
					slog.String("error", err.Error()))
			}
		}
		return nil
	}
}

func (l *Local) copyAggregate(ctx context.Context, out Outcome) error {
	text := out.Text
	if l.store != nil {
		aggregate, err := l.store.ChannelTranscript(ctx, out.Channel, 0)
		if err != nil {
			l.log.Warn("transcript aggregation failed, copying session text only",
				slog.String("component", "delivery"),
				slog.String("error", err.Error()))
		} else if aggregate != "" {
			text = aggregate
		}
	}
	if err := l.runCommand(ctx, l.clipboardCmd, text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

func (l *Local) runCommand(ctx context.Context, cmd []string, text string) error {
	if len(cmd) == 0 {
		l.log.Warn("delivery command not configured, dropping text",
			slog.String("component", "delivery"))
		return nil
	}
	command := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	command.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd[0], err, stderr.String())
	}
	return nil
}
