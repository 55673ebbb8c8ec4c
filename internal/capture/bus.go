package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/protocol"
)

// BusSource consumes frames a capture front-end publishes on
// audio.frame.<channel>. A frame marked final ends the stream.
type BusSource struct {
	sub *nats.Subscription
	ch  chan audio.Frame
	log *slog.Logger

	mu       sync.Mutex
	closed   bool
	offset   time.Duration
	lastSeq  int
	haveSeq  bool
	sampleRt int
}

// Subscribe attaches to the frame subject for channel. Frames that arrive out
// of sequence are dropped rather than reordered.
func Subscribe(client *bus.Client, channel string, sampleRate int, log *slog.Logger) (*BusSource, error) {
	s := &BusSource{
		ch:       make(chan audio.Frame, 64),
		log:      log,
		sampleRt: sampleRate,
	}

	subject := fmt.Sprintf("%s.%s", protocol.SubjectAudioFramePrefix, channel)
	sub, err := client.Conn().Subscribe(subject, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	return s, nil
}

func (s *BusSource) handle(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("dropping malformed audio frame",
			slog.String("component", "capture"),
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.haveSeq && frame.Sequence <= s.lastSeq {
		s.log.Warn("dropping out-of-order audio frame",
			slog.String("component", "capture"),
			slog.Int("sequence", frame.Sequence))
		return
	}
	s.lastSeq = frame.Sequence
	s.haveSeq = true

	if len(frame.PCM) > 0 {
		f := audio.Frame{PCM: frame.PCM, Offset: s.offset}
		s.offset += f.Duration(s.sampleRt)
		select {
		case s.ch <- f:
		default:
			s.log.Warn("dropping audio frame, consumer behind",
				slog.String("component", "capture"))
		}
	}
	if frame.Final {
		s.closed = true
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
		close(s.ch)
	}
}

func (s *BusSource) Frames() <-chan audio.Frame { return s.ch }

func (s *BusSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.sub.Unsubscribe()
	close(s.ch)
	return err
}
