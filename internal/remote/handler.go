// Package remote accepts dictation sessions over websocket: a browser or
// phone records audio, ships the finished container as one binary message,
// and receives status updates back on the same connection.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/xid"

	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/delivery"
	"github.com/scribelabs/scribe-core/internal/pipeline"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/session"
)

// Converter turns an uploaded audio container into PCM. audio.Converter is
// the production implementation.
type Converter interface {
	Convert(ctx context.Context, blob []byte) ([]byte, error)
}

// Handler serves the /ws/transcribe endpoint. Each connection gets its own
// session channel; each binary message is one complete recording.
type Handler struct {
	cfg        config.RemoteConfig
	sampleRate int
	frameMS    int
	segmenter  config.SegmenterConfig
	registry   *session.Registry
	converter  Converter
	log        *slog.Logger
}

func NewHandler(cfg config.RemoteConfig, sampleRate, frameMS int, segmenter config.SegmenterConfig, registry *session.Registry, converter Converter, log *slog.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		sampleRate: sampleRate,
		frameMS:    frameMS,
		segmenter:  segmenter,
		registry:   registry,
		converter:  converter,
		log:        log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed",
			slog.String("component", "remote"),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")

	channel := "remote-" + xid.New().String()
	ctx := r.Context()

	var sendMu sync.Mutex
	send := func(ctx context.Context, msg protocol.StatusMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		return conn.Write(ctx, websocket.MessageText, data)
	}
	sink := delivery.NewRemote(send, h.log)

	h.log.Info("remote client connected",
		slog.String("component", "remote"),
		slog.String("channel", channel))

	var inputLanguage, outputLanguage string

	for {
		readCtx := ctx
		var cancelRead context.CancelFunc
		if h.cfg.IdleTimeoutMS > 0 {
			readCtx, cancelRead = context.WithTimeout(ctx, time.Duration(h.cfg.IdleTimeoutMS)*time.Millisecond)
		}
		typ, data, err := conn.Read(readCtx)
		if cancelRead != nil {
			cancelRead()
		}
		if err != nil {
			// disconnect abandons whatever is in flight
			h.registry.Cancel(channel)
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.log.Info("remote client disconnected",
					slog.String("component", "remote"),
					slog.String("channel", channel))
			} else {
				h.log.Warn("remote connection lost",
					slog.String("component", "remote"),
					slog.String("channel", channel),
					slog.String("error", err.Error()))
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		switch typ {
		case websocket.MessageText:
			var clientCfg protocol.ClientConfig
			if err := json.Unmarshal(data, &clientCfg); err != nil {
				h.log.Warn("ignoring malformed client message",
					slog.String("component", "remote"),
					slog.String("error", err.Error()))
				continue
			}
			if clientCfg.Type == "config" {
				inputLanguage = clientCfg.InputLanguage
				outputLanguage = clientCfg.OutputLanguage
				h.log.Info("remote client configured",
					slog.String("component", "remote"),
					slog.String("channel", channel),
					slog.String("input_language", inputLanguage),
					slog.String("output_language", outputLanguage))
			}

		case websocket.MessageBinary:
			if err := h.startSession(ctx, channel, data, inputLanguage, outputLanguage, sink, send); err != nil {
				if sendErr := send(ctx, protocol.StatusMessage{
					Status:  protocol.StatusError,
					Message: err.Error(),
				}); sendErr != nil {
					h.registry.Cancel(channel)
					return
				}
			}
		}
	}
}

func (h *Handler) startSession(ctx context.Context, channel string, blob []byte, inputLanguage, outputLanguage string, sink delivery.Channel, send delivery.SendFunc) error {
	if len(blob) == 0 {
		return errors.New("empty audio payload")
	}
	if h.cfg.MaxBlobBytes > 0 && len(blob) > h.cfg.MaxBlobBytes {
		return fmt.Errorf("audio payload exceeds %d bytes", h.cfg.MaxBlobBytes)
	}

	convertCtx := ctx
	var cancel context.CancelFunc
	if h.cfg.ConvertTimeoutMS > 0 {
		convertCtx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.ConvertTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	pcm, err := h.converter.Convert(convertCtx, blob)
	if err != nil {
		h.log.Warn("audio conversion failed",
			slog.String("component", "remote"),
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return errors.New("could not decode audio")
	}

	cfg := pipeline.Config{
		Channel:        channel,
		InputLanguage:  inputLanguage,
		OutputLanguage: outputLanguage,
		SampleRate:     h.sampleRate,
		Segmenter:      h.segmenter,
	}
	src := capture.NewMemorySource(pcm, h.sampleRate, h.frameMS)

	_, err = h.registry.Start(ctx, cfg, src, sink, nil)
	if errors.Is(err, session.ErrAlreadyActive) {
		return errors.New("a transcription is already in progress")
	}
	return err
}
