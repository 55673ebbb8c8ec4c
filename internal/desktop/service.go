// Package desktop turns push-to-talk trigger events from the bus into local
// dictation sessions. The key hook itself lives outside this process and
// only publishes start/stop/cancel triggers.
package desktop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/delivery"
	"github.com/scribelabs/scribe-core/internal/pipeline"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/session"
)

// Service listens for capture triggers and drives sessions on the desktop
// channel.
type Service struct {
	cfg       config.CaptureConfig
	segmenter config.SegmenterConfig
	client    *bus.Client
	registry  *session.Registry
	sink      delivery.Channel
	log       *slog.Logger

	// newSource is swappable for tests
	newSource func(ctx context.Context, channel string) (capture.Source, error)

	ctx context.Context
	sub *nats.Subscription

	mu      sync.Mutex
	started map[string]time.Time
}

func New(cfg config.CaptureConfig, segmenter config.SegmenterConfig, client *bus.Client, registry *session.Registry, sink delivery.Channel, log *slog.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		segmenter: segmenter,
		client:    client,
		registry:  registry,
		sink:      sink,
		log:       log,
		started:   make(map[string]time.Time),
	}
	s.newSource = s.defaultSource
	return s
}

func (s *Service) defaultSource(ctx context.Context, channel string) (capture.Source, error) {
	switch s.cfg.Mode {
	case "exec":
		return capture.StartExec(ctx, s.cfg, s.log)
	case "bus":
		return capture.Subscribe(s.client, channel, s.cfg.SampleRate, s.log)
	default:
		return nil, fmt.Errorf("unknown capture mode %q", s.cfg.Mode)
	}
}

// Start subscribes to the trigger subject. Triggers arriving before Start
// are lost, which is fine: there is no session to act on yet.
func (s *Service) Start(ctx context.Context) error {
	s.ctx = ctx
	subject := protocol.SubjectTriggerPrefix + ".*"
	sub, err := s.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var trigger protocol.TriggerEvent
		if err := json.Unmarshal(msg.Data, &trigger); err != nil {
			s.log.Warn("dropping malformed trigger",
				slog.String("component", "desktop"),
				slog.String("error", err.Error()))
			return
		}
		s.HandleTrigger(trigger)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.log.Info("desktop capture service started",
		slog.String("component", "desktop"),
		slog.String("channel", s.cfg.Channel),
		slog.String("mode", s.cfg.Mode))
	return nil
}

// HandleTrigger applies one trigger event.
func (s *Service) HandleTrigger(trigger protocol.TriggerEvent) {
	channel := trigger.Channel
	if channel == "" {
		channel = s.cfg.Channel
	}

	switch trigger.Action {
	case protocol.TriggerStart:
		s.startSession(channel)
	case protocol.TriggerStop:
		s.stopSession(channel)
	case protocol.TriggerCancel:
		if !s.registry.Cancel(channel) {
			s.log.Debug("cancel trigger with no active session",
				slog.String("component", "desktop"),
				slog.String("channel", channel))
		}
		s.clearStarted(channel)
	default:
		s.log.Warn("unknown trigger action",
			slog.String("component", "desktop"),
			slog.String("action", trigger.Action))
	}
}

func (s *Service) startSession(channel string) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	src, err := s.newSource(ctx, channel)
	if err != nil {
		s.log.Error("capture source failed",
			slog.String("component", "desktop"),
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}

	cfg := pipeline.Config{
		Channel:    channel,
		SampleRate: s.cfg.SampleRate,
		Segmenter:  s.segmenter,
	}
	_, err = s.registry.Start(ctx, cfg, src, s.sink, func(res pipeline.Result) {
		s.clearStarted(channel)
	})
	if err != nil {
		src.Close()
		if errors.Is(err, session.ErrAlreadyActive) {
			s.log.Warn("start trigger ignored, session already active",
				slog.String("component", "desktop"),
				slog.String("channel", channel))
			return
		}
		s.log.Error("session start failed",
			slog.String("component", "desktop"),
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.started[channel] = time.Now()
	s.mu.Unlock()
}

// stopSession honors the minimum hold time: a tap shorter than min_hold_ms
// keeps capturing for the remainder so the tail of the utterance is not cut.
func (s *Service) stopSession(channel string) {
	s.mu.Lock()
	startedAt, ok := s.started[channel]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("stop trigger with no active session",
			slog.String("component", "desktop"),
			slog.String("channel", channel))
		return
	}

	minHold := time.Duration(s.cfg.MinHoldMS) * time.Millisecond
	if held := time.Since(startedAt); held < minHold {
		remaining := minHold - held
		time.AfterFunc(remaining, func() {
			s.registry.Stop(channel)
		})
		return
	}
	s.registry.Stop(channel)
}

func (s *Service) clearStarted(channel string) {
	s.mu.Lock()
	delete(s.started, channel)
	s.mu.Unlock()
}

// Close unsubscribes from triggers. Running sessions are left to the
// registry's shutdown.
func (s *Service) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.log.Info("desktop capture service stopped", slog.String("component", "desktop"))
}

// Healthy reports whether the trigger subscription is live.
func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}
