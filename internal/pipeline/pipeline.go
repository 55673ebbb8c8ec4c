// Package pipeline drives one dictation session from first audio frame to
// delivered text: capture, segmentation, transcription, rewrite, delivery.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/delivery"
	"github.com/scribelabs/scribe-core/internal/gateway"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/segment"
)

// Config carries the per-session knobs. Languages follow the transcriber and
// rewriter defaults when empty.
type Config struct {
	Channel        string
	InputLanguage  string
	OutputLanguage string
	SampleRate     int
	Segmenter      config.SegmenterConfig
}

// Result is the terminal outcome of a session run.
type Result struct {
	SessionID string
	Channel   string
	State     State
	Text      string
	RawText   string
	Language  string
	NoSpeech  bool
	Err       error
}

// Recorder persists session rows and transitions. history.Store satisfies
// it; tests swap in a fake.
type Recorder interface {
	RecordSession(ctx context.Context, rec history.SessionRecord) error
	RecordTransition(ctx context.Context, sessionID, state, detail string) error
}

// Notifier receives every state change for broadcast. May be nil.
type Notifier func(status protocol.SessionStatus)

// Pipeline is one session in flight. Run executes the whole lifecycle on the
// caller's goroutine; Stop and Cancel are safe from any goroutine.
type Pipeline struct {
	id     string
	cfg    Config
	gw     *gateway.Gateway
	sink   delivery.Channel
	rec    Recorder
	notify Notifier
	log    *slog.Logger

	stopOnce   sync.Once
	cancelOnce sync.Once
	stopCh     chan struct{}
	cancelCh   chan struct{}

	mu    sync.Mutex
	state State
}

func New(cfg Config, gw *gateway.Gateway, sink delivery.Channel, rec Recorder, notify Notifier, log *slog.Logger) *Pipeline {
	return &Pipeline{
		id:       xid.New().String(),
		cfg:      cfg,
		gw:       gw,
		sink:     sink,
		rec:      rec,
		notify:   notify,
		log:      log,
		stopCh:   make(chan struct{}),
		cancelCh: make(chan struct{}),
		state:    StateIdle,
	}
}

// ID is the session identifier, assigned at construction.
func (p *Pipeline) ID() string { return p.id }

// State reports the current lifecycle position.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop ends capture and lets the session finish processing what it heard.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Cancel abandons the session. During capture it takes effect immediately;
// once inference started the in-flight call completes and its result is
// discarded. A cancelled session delivers nothing.
func (p *Pipeline) Cancel() {
	p.cancelOnce.Do(func() { close(p.cancelCh) })
}

func (p *Pipeline) cancelled() bool {
	select {
	case <-p.cancelCh:
		return true
	default:
		return false
	}
}

// Run executes the session against a frame source and returns its terminal
// result. The source is closed before Run returns.
func (p *Pipeline) Run(ctx context.Context, src capture.Source) Result {
	started := time.Now()
	defer src.Close()

	p.log.Info("session started",
		slog.String("component", "pipeline"),
		slog.String("session_id", p.id),
		slog.String("channel", p.cfg.Channel))

	if p.rec != nil {
		if err := p.rec.RecordSession(ctx, history.SessionRecord{
			ID: p.id, Channel: p.cfg.Channel, State: StateCapturing.String(),
		}); err != nil {
			p.log.Warn("session record failed",
				slog.String("component", "pipeline"),
				slog.String("error", err.Error()))
		}
	}

	segments, autoClosed, cancelled := p.capture(ctx, src)
	if cancelled {
		return p.resolve(ctx, Result{State: StateCancelled}, started)
	}

	p.setState(ctx, StateFinalizing, "")
	if cancelled := p.cancelled(); cancelled {
		return p.resolve(ctx, Result{State: StateCancelled}, started)
	}

	if len(segments) == 0 {
		result := Result{State: StateComplete, NoSpeech: true}
		p.setState(ctx, StateDelivering, "")
		p.deliver(ctx, result)
		return p.resolve(ctx, result, started)
	}

	p.setState(ctx, StateTranscribing, "")
	p.sink.Notify(ctx, p.id)

	transcription, err := p.gw.Transcribe(ctx, segments, p.cfg.InputLanguage)
	if p.cancelled() {
		// advisory cancellation: the call ran to completion, result dropped
		return p.resolve(ctx, Result{State: StateCancelled}, started)
	}
	if err != nil {
		result := Result{State: StateErrored, Err: err}
		p.deliver(ctx, result)
		return p.resolve(ctx, result, started)
	}
	if transcription.Text == "" {
		result := Result{State: StateComplete, NoSpeech: true, Language: transcription.Language}
		p.setState(ctx, StateDelivering, "")
		p.deliver(ctx, result)
		return p.resolve(ctx, result, started)
	}

	text := transcription.Text
	if p.shouldRewrite(autoClosed) {
		p.setState(ctx, StateRewriting, "")
		rewritten, err := p.gw.Rewrite(ctx, transcription.Text, p.cfg.OutputLanguage)
		if p.cancelled() {
			return p.resolve(ctx, Result{State: StateCancelled}, started)
		}
		if err != nil {
			result := Result{State: StateErrored, RawText: transcription.Text, Err: err}
			p.deliver(ctx, result)
			return p.resolve(ctx, result, started)
		}
		text = rewritten
	}

	result := Result{
		State:    StateComplete,
		Text:     text,
		RawText:  transcription.Text,
		Language: transcription.Language,
	}

	// the session row must hold the text before delivery so clipboard
	// aggregation sees it
	p.record(ctx, result)
	p.setState(ctx, StateDelivering, "")
	p.deliver(ctx, result)

	return p.resolve(ctx, result, started)
}

// capture consumes frames until the source ends, Stop fires, or Cancel
// fires. autoClosed is true when the source ended on its own.
func (p *Pipeline) capture(ctx context.Context, src capture.Source) (segments []segment.Segment, autoClosed, cancelled bool) {
	p.setState(ctx, StateCapturing, "")
	seg := segment.New(p.cfg.Segmenter, p.cfg.SampleRate)

	frames := src.Frames()
	stopping := false
	autoClosed = true
	for {
		select {
		case <-p.cancelCh:
			src.Close()
			return nil, false, true
		case <-p.stopCh:
			if !stopping {
				stopping = true
				autoClosed = false
				src.Close()
			}
			// keep draining until the source closes its channel
			f, ok := <-frames
			if !ok {
				if tail, ok := seg.Flush(); ok {
					segments = append(segments, tail)
				}
				return segments, autoClosed, false
			}
			segments = append(segments, seg.Feed(f)...)
		case f, ok := <-frames:
			if !ok {
				if tail, ok := seg.Flush(); ok {
					segments = append(segments, tail)
				}
				return segments, autoClosed, false
			}
			segments = append(segments, seg.Feed(f)...)
		case <-ctx.Done():
			src.Close()
			return nil, false, true
		}
	}
}

func (p *Pipeline) shouldRewrite(autoClosed bool) bool {
	if !p.gw.RewriteEnabled() {
		return false
	}
	if autoClosed && !p.gw.RewriteOnAuto() {
		return false
	}
	return true
}

func (p *Pipeline) deliver(ctx context.Context, result Result) {
	out := delivery.Outcome{
		SessionID: p.id,
		Channel:   p.cfg.Channel,
		Text:      result.Text,
		RawText:   result.RawText,
		Language:  result.Language,
		NoSpeech:  result.NoSpeech,
		Err:       result.Err,
	}
	if err := p.sink.Deliver(ctx, out); err != nil {
		// delivery failure does not fail the session, the text is already
		// recorded and retrievable from history
		p.log.Error("delivery failed",
			slog.String("component", "pipeline"),
			slog.String("session_id", p.id),
			slog.String("error", err.Error()))
	}
}

// resolve enters the terminal state, records the final row, and reports
// metrics.
func (p *Pipeline) resolve(ctx context.Context, result Result, started time.Time) Result {
	result.SessionID = p.id
	result.Channel = p.cfg.Channel

	detail := ""
	if result.Err != nil {
		detail = result.Err.Error()
	}
	p.setState(ctx, result.State, detail)
	p.record(ctx, result)
	observeSession(ctx, result.State, time.Since(started))

	p.log.Info("session finished",
		slog.String("component", "pipeline"),
		slog.String("session_id", p.id),
		slog.String("state", result.State.String()),
		slog.Duration("elapsed", time.Since(started)))
	return result
}

func (p *Pipeline) record(ctx context.Context, result Result) {
	if p.rec == nil {
		return
	}
	rec := history.SessionRecord{
		ID:       p.id,
		Channel:  p.cfg.Channel,
		State:    result.State.String(),
		Language: result.Language,
		RawText:  result.RawText,
		Text:     result.Text,
		NoSpeech: result.NoSpeech,
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	if err := p.rec.RecordSession(ctx, rec); err != nil {
		p.log.Warn("session record failed",
			slog.String("component", "pipeline"),
			slog.String("error", err.Error()))
	}
}

func (p *Pipeline) setState(ctx context.Context, next State, detail string) {
	p.mu.Lock()
	if p.state == next || p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.state = next
	p.mu.Unlock()

	if p.rec != nil {
		if err := p.rec.RecordTransition(ctx, p.id, next.String(), detail); err != nil {
			p.log.Warn("transition record failed",
				slog.String("component", "pipeline"),
				slog.String("error", err.Error()))
		}
	}
	if p.notify != nil {
		p.notify(protocol.SessionStatus{
			SessionID: p.id,
			Channel:   p.cfg.Channel,
			State:     next.String(),
			Error:     detail,
			Timestamp: time.Now().UTC(),
		})
	}
	p.log.Debug("session state",
		slog.String("component", "pipeline"),
		slog.String("session_id", p.id),
		slog.String("state", next.String()))
}
