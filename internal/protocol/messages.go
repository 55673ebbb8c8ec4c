package protocol

import "time"

// AudioFrame represents PCM audio data published by a capture front-end.
type AudioFrame struct {
	Channel    string `json:"channel"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TriggerEvent is emitted by the key-hook front-end to start or stop a
// capture session on a channel.
type TriggerEvent struct {
	Channel   string    `json:"channel"`
	Action    string    `json:"action"` // start, stop, cancel
	Timestamp time.Time `json:"timestamp"`
}

// SessionStatus is broadcast on every pipeline state transition so front-ends
// can mirror the session lifecycle. Transcripts live in the history store, not
// on this subject.
type SessionStatus struct {
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientConfig is the first message a remote client sends on its websocket,
// before any audio payload.
type ClientConfig struct {
	Type           string `json:"type"`
	InputLanguage  string `json:"input_language,omitempty"`
	OutputLanguage string `json:"output_language,omitempty"`
}

// StatusMessage is sent to a remote client while its session progresses.
// Exactly one terminal status (complete or error) is sent per session.
type StatusMessage struct {
	Status  string `json:"status"` // processing, complete, error
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	TriggerStart  = "start"
	TriggerStop   = "stop"
	TriggerCancel = "cancel"

	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTriggerPrefix    = "capture.trigger"
	SubjectSessionStatus    = "session.status"
)
