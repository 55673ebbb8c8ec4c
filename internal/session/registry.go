// Package session enforces the one-active-session-per-channel rule and owns
// the lifecycle goroutine of each running pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/delivery"
	"github.com/scribelabs/scribe-core/internal/gateway"
	"github.com/scribelabs/scribe-core/internal/pipeline"
)

// ErrAlreadyActive is returned when a channel already has a running session.
var ErrAlreadyActive = errors.New("channel already has an active session")

// ErrClosed is returned once the registry shut down.
var ErrClosed = errors.New("session registry is closed")

type entry struct {
	pipe *pipeline.Pipeline
	done chan struct{}
}

// Registry maps channels to their single in-flight session.
type Registry struct {
	gw     *gateway.Gateway
	rec    pipeline.Recorder
	notify pipeline.Notifier
	log    *slog.Logger

	mu     sync.Mutex
	active map[string]*entry
	closed bool
	wg     sync.WaitGroup

	meter       metric.Meter
	activeGauge metric.Int64ObservableGauge
}

func NewRegistry(gw *gateway.Gateway, rec pipeline.Recorder, notify pipeline.Notifier, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		gw:     gw,
		rec:    rec,
		notify: notify,
		log:    log,
		active: make(map[string]*entry),
		meter:  otel.Meter("scribe/session"),
	}
	if err := r.initMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("scribe.sessions.active",
		metric.WithDescription("Currently running dictation sessions"))
	if err != nil {
		return err
	}
	r.activeGauge = gauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, r.activeCount())
		return nil
	}, gauge)
	return err
}

func (r *Registry) activeCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.active))
}

// Start launches a session on channel with the given source and sink. It
// fails with ErrAlreadyActive while a previous session on the channel has
// not reached a terminal state. onDone, if set, receives the terminal
// result after the channel slot is released.
func (r *Registry) Start(ctx context.Context, cfg pipeline.Config, src capture.Source, sink delivery.Channel, onDone func(pipeline.Result)) (*pipeline.Pipeline, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if _, busy := r.active[cfg.Channel]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("channel %q: %w", cfg.Channel, ErrAlreadyActive)
	}

	pipe := pipeline.New(cfg, r.gw, sink, r.rec, r.notify, r.log)
	e := &entry{pipe: pipe, done: make(chan struct{})}
	r.active[cfg.Channel] = e
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		result := pipe.Run(ctx, src)

		r.mu.Lock()
		if current, ok := r.active[cfg.Channel]; ok && current == e {
			delete(r.active, cfg.Channel)
		}
		r.mu.Unlock()
		close(e.done)

		if onDone != nil {
			onDone(result)
		}
	}()

	return pipe, nil
}

// Active returns the running pipeline for channel, or nil.
func (r *Registry) Active(channel string) *pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[channel]; ok {
		return e.pipe
	}
	return nil
}

// Stop requests a graceful end of capture on channel. It is a no-op when
// nothing is running.
func (r *Registry) Stop(channel string) bool {
	if pipe := r.Active(channel); pipe != nil {
		pipe.Stop()
		return true
	}
	return false
}

// Cancel abandons the session on channel, if any.
func (r *Registry) Cancel(channel string) bool {
	if pipe := r.Active(channel); pipe != nil {
		pipe.Cancel()
		return true
	}
	return false
}

// Close cancels every running session and waits for them to resolve.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for _, e := range r.active {
		e.pipe.Cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.log.Info("session registry closed", slog.String("component", "session"))
}
