// Package segment turns a stream of PCM frames into discrete speech segments
// using an energy gate with onset debounce and a trailing silence gap.
package segment

import (
	"math"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

// Segment is one contiguous stretch of detected speech, including the
// pre-roll lead-in and the silence consumed before the gate closed.
type Segment struct {
	PCM   []byte
	Start time.Duration
	End   time.Duration
}

// Duration reports the play time the segment covers.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

type state int

const (
	stateIdle state = iota
	stateSpeaking
)

// Segmenter consumes frames in arrival order and emits segments. It is not
// safe for concurrent use; each pipeline owns exactly one instance.
type Segmenter struct {
	sampleRate int

	threshold  float64
	onsetMin   time.Duration
	gap        time.Duration
	minSegment time.Duration
	maxSegment time.Duration
	preRoll    time.Duration

	state      state
	ring       []audio.Frame // pre-roll, bounded by preRoll
	pending    []audio.Frame // active frames not yet past onset debounce
	pendingDur time.Duration

	buf        []byte
	bufStart   time.Duration
	bufEnd     time.Duration
	silenceRun time.Duration
}

// New builds a segmenter for mono 16-bit PCM at the given sample rate.
func New(cfg config.SegmenterConfig, sampleRate int) *Segmenter {
	return &Segmenter{
		sampleRate: sampleRate,
		threshold:  cfg.RMSThreshold,
		onsetMin:   time.Duration(cfg.OnsetMinMS) * time.Millisecond,
		gap:        time.Duration(cfg.GapMS) * time.Millisecond,
		minSegment: time.Duration(cfg.MinSegmentMS) * time.Millisecond,
		maxSegment: time.Duration(cfg.MaxSegmentMS) * time.Millisecond,
		preRoll:    time.Duration(cfg.PreRollMS) * time.Millisecond,
	}
}

// RMS computes the root mean square energy of a PCM frame.
func RMS(pcm []byte) float64 {
	samples := audio.Samples16(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Feed processes one frame and returns any segments it closed. A frame can
// close at most one segment except when a force-close at the length cap
// coincides with new audio, so callers must handle a slice.
func (s *Segmenter) Feed(frame audio.Frame) []Segment {
	if len(frame.PCM) == 0 {
		return nil
	}
	active := RMS(frame.PCM) >= s.threshold
	dur := frame.Duration(s.sampleRate)

	switch s.state {
	case stateIdle:
		if !active {
			s.flushPendingToRing()
			s.pushRing(frame)
			return nil
		}
		s.pending = append(s.pending, frame)
		s.pendingDur += dur
		if s.pendingDur < s.onsetMin {
			return nil
		}
		s.openSegment()
		return s.checkMax()

	case stateSpeaking:
		s.appendFrame(frame)
		if active {
			s.silenceRun = 0
		} else {
			s.silenceRun += dur
			if s.silenceRun >= s.gap {
				return s.closeSegment()
			}
		}
		return s.checkMax()
	}
	return nil
}

// Flush closes any in-flight segment at end of stream. It returns false when
// nothing was buffered or the buffered audio is below the minimum length.
func (s *Segmenter) Flush() (Segment, bool) {
	if s.state != stateSpeaking {
		s.reset()
		return Segment{}, false
	}
	seg, ok := s.emit()
	s.reset()
	return seg, ok
}

// openSegment promotes the pre-roll ring and the debounced onset frames into
// a fresh segment buffer.
func (s *Segmenter) openSegment() {
	s.state = stateSpeaking
	s.silenceRun = 0
	s.buf = s.buf[:0]

	first := true
	for _, f := range s.ring {
		if first {
			s.bufStart = f.Offset
			first = false
		}
		s.buf = append(s.buf, f.PCM...)
		s.bufEnd = f.Offset + f.Duration(s.sampleRate)
	}
	for _, f := range s.pending {
		if first {
			s.bufStart = f.Offset
			first = false
		}
		s.buf = append(s.buf, f.PCM...)
		s.bufEnd = f.Offset + f.Duration(s.sampleRate)
	}
	s.ring = s.ring[:0]
	s.pending = s.pending[:0]
	s.pendingDur = 0
}

func (s *Segmenter) appendFrame(frame audio.Frame) {
	s.buf = append(s.buf, frame.PCM...)
	s.bufEnd = frame.Offset + frame.Duration(s.sampleRate)
}

func (s *Segmenter) closeSegment() []Segment {
	seg, ok := s.emit()
	s.state = stateIdle
	s.buf = s.buf[:0]
	s.silenceRun = 0
	if !ok {
		return nil
	}
	return []Segment{seg}
}

// checkMax force-closes the buffer when it hits the length cap. The gate
// stays open so a long utterance continues into the next segment without
// dropping audio.
func (s *Segmenter) checkMax() []Segment {
	if s.state != stateSpeaking || s.maxSegment <= 0 {
		return nil
	}
	if s.bufEnd-s.bufStart < s.maxSegment {
		return nil
	}
	seg, ok := s.emit()
	s.buf = s.buf[:0]
	s.bufStart = s.bufEnd
	s.silenceRun = 0
	if !ok {
		return nil
	}
	return []Segment{seg}
}

func (s *Segmenter) emit() (Segment, bool) {
	if len(s.buf) == 0 {
		return Segment{}, false
	}
	if s.bufEnd-s.bufStart < s.minSegment {
		return Segment{}, false
	}
	pcm := make([]byte, len(s.buf))
	copy(pcm, s.buf)
	return Segment{PCM: pcm, Start: s.bufStart, End: s.bufEnd}, true
}

func (s *Segmenter) flushPendingToRing() {
	for _, f := range s.pending {
		s.pushRing(f)
	}
	s.pending = s.pending[:0]
	s.pendingDur = 0
}

func (s *Segmenter) pushRing(frame audio.Frame) {
	if s.preRoll <= 0 {
		return
	}
	s.ring = append(s.ring, frame)
	for s.ringDuration() > s.preRoll && len(s.ring) > 1 {
		s.ring = s.ring[1:]
	}
}

func (s *Segmenter) ringDuration() time.Duration {
	var total time.Duration
	for _, f := range s.ring {
		total += f.Duration(s.sampleRate)
	}
	return total
}

func (s *Segmenter) reset() {
	s.state = stateIdle
	s.ring = s.ring[:0]
	s.pending = s.pending[:0]
	s.pendingDur = 0
	s.buf = s.buf[:0]
	s.silenceRun = 0
}
