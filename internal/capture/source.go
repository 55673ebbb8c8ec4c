// Package capture provides the frame sources a session can record from:
// a microphone subprocess, bus-published frames, or an in-memory blob.
package capture

import (
	"github.com/scribelabs/scribe-core/internal/audio"
)

// Source is a stream of PCM frames. The channel closes when the stream ends,
// whether by Close, by the producer finishing, or by a final frame marker.
type Source interface {
	Frames() <-chan audio.Frame
	Close() error
}

// MemorySource replays an already-captured PCM buffer as a frame stream.
// Remote sessions use it after container conversion.
type MemorySource struct {
	ch chan audio.Frame
}

// NewMemorySource chunks pcm into frameMS frames and closes the stream after
// the last one.
func NewMemorySource(pcm []byte, sampleRate, frameMS int) *MemorySource {
	frames := audio.Split(pcm, sampleRate, frameMS)
	ch := make(chan audio.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return &MemorySource{ch: ch}
}

func (m *MemorySource) Frames() <-chan audio.Frame { return m.ch }

func (m *MemorySource) Close() error { return nil }
