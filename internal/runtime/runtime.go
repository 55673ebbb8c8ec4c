// Package runtime assembles the scribed process: telemetry, bus, history,
// inference gateway, session registry, and the desktop and remote surfaces.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/delivery"
	"github.com/scribelabs/scribe-core/internal/desktop"
	"github.com/scribelabs/scribe-core/internal/gateway"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/natsserver"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/remote"
	"github.com/scribelabs/scribe-core/internal/session"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *history.Store
	registry    *session.Registry
	desktop     *desktop.Service

	ready atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is cancelled, and tears
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Embedded {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded
		r.cfg.Bus.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", r.cfg.Bus.Port)}
	}

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = busClient

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	r.store = store

	gw, err := gateway.New(r.cfg.Transcriber, r.cfg.Rewriter, r.cfg.Capture.SampleRate, r.logger)
	if err != nil {
		return fmt.Errorf("build inference gateway: %w", err)
	}

	registry, err := session.NewRegistry(gw, store, r.broadcastStatus, r.logger)
	if err != nil {
		return fmt.Errorf("build session registry: %w", err)
	}
	r.registry = registry

	localSink, err := delivery.NewLocal(r.cfg.Delivery, store, r.logger)
	if err != nil {
		return fmt.Errorf("build local delivery: %w", err)
	}

	if r.cfg.Capture.Enabled {
		r.desktop = desktop.New(r.cfg.Capture, r.cfg.Segmenter, busClient, registry, localSink, r.logger)
		if err := r.desktop.Start(ctx); err != nil {
			return fmt.Errorf("start desktop service: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/config", r.handleConfig)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	if r.cfg.Remote.Enabled {
		converter, err := audio.NewConverter(
			r.cfg.Remote.ConvertCommand,
			r.cfg.Capture.SampleRate,
			time.Duration(r.cfg.Remote.ConvertTimeoutMS)*time.Millisecond,
		)
		if err != nil {
			return fmt.Errorf("build audio converter: %w", err)
		}
		handler := remote.NewHandler(
			r.cfg.Remote,
			r.cfg.Capture.SampleRate,
			r.cfg.Capture.FrameMS,
			r.cfg.Segmenter,
			registry,
			converter,
			r.logger,
		)
		mux.Handle("/ws/transcribe", handler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return r.pruneLoop(groupCtx)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-groupCtx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := group.Wait(); err != nil {
		r.logger.Error("background task failed", slog.String("error", err.Error()))
	}

	if r.desktop != nil {
		r.desktop.Close()
	}
	r.registry.Close()
	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// pruneLoop applies history retention once a day while the runtime is up.
func (r *Runtime) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("history prune failed",
					slog.String("component", "runtime"),
					slog.String("error", err.Error()))
			}
		}
	}
}

// broadcastStatus publishes session state changes for any listening
// front-ends (tray icons, overlays, the key hook).
func (r *Runtime) broadcastStatus(status protocol.SessionStatus) {
	if r.busClient == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := r.busClient.Conn().Publish(protocol.SubjectSessionStatus, data); err != nil {
		r.logger.Debug("status broadcast failed",
			slog.String("component", "runtime"),
			slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleConfig exposes the settings remote clients care about, so a web
// recorder can show the active languages before it records anything.
func (r *Runtime) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"input_language":  r.cfg.Transcriber.Language,
		"output_language": r.cfg.Rewriter.OutputLanguage,
		"rewrite_enabled": r.cfg.Rewriter.Enabled,
		"rewrite_model":   r.cfg.Rewriter.Model,
		"delivery_mode":   r.cfg.Delivery.Mode,
		"sample_rate":     r.cfg.Capture.SampleRate,
	})
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
