// Package delivery routes a finished session's text to its destination: the
// focused window, the clipboard, or a remote websocket client.
package delivery

import "context"

// Outcome is what a session ended with. Exactly one Outcome is delivered per
// session that reaches a terminal state other than cancellation.
type Outcome struct {
	SessionID string
	Channel   string
	Text      string
	RawText   string
	Language  string
	NoSpeech  bool
	Err       error
}

// Channel receives progress and the final outcome of a session. Notify fires
// when processing begins so interactive clients can show feedback; Deliver
// fires exactly once at the end.
type Channel interface {
	Notify(ctx context.Context, sessionID string)
	Deliver(ctx context.Context, out Outcome) error
}
