package delivery

import (
	"context"
	"log/slog"

	"github.com/scribelabs/scribe-core/internal/protocol"
)

// SendFunc pushes one status message to a remote client.
type SendFunc func(ctx context.Context, msg protocol.StatusMessage) error

// Remote delivers through a websocket connection owned by the caller. The
// transport stays outside so a dropped connection is the caller's concern.
type Remote struct {
	send SendFunc
	log  *slog.Logger
}

func NewRemote(send SendFunc, log *slog.Logger) *Remote {
	return &Remote{send: send, log: log}
}

func (r *Remote) Notify(ctx context.Context, sessionID string) {
	if err := r.send(ctx, protocol.StatusMessage{Status: protocol.StatusProcessing}); err != nil {
		r.log.Debug("processing status not sent",
			slog.String("component", "delivery"),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (r *Remote) Deliver(ctx context.Context, out Outcome) error {
	var msg protocol.StatusMessage
	switch {
	case out.Err != nil:
		msg = protocol.StatusMessage{Status: protocol.StatusError, Message: out.Err.Error()}
	case out.NoSpeech || out.Text == "":
		msg = protocol.StatusMessage{Status: protocol.StatusComplete, Message: "No speech detected"}
	default:
		msg = protocol.StatusMessage{Status: protocol.StatusComplete, Text: out.Text}
	}
	return r.send(ctx, msg)
}
