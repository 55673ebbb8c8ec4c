package segment

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

const testRate = 16000

func testConfig() config.SegmenterConfig {
	return config.SegmenterConfig{
		RMSThreshold: 400,
		OnsetMinMS:   90,
		GapMS:        600,
		MinSegmentMS: 200,
		MaxSegmentMS: 5000,
		PreRollMS:    120,
	}
}

func frame(offset time.Duration, ms int, amplitude int16) audio.Frame {
	samples := testRate * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.Frame{PCM: pcm, Offset: offset}
}

// stream feeds alternating loud/quiet stretches, each entry a duration in
// milliseconds, starting loud. Returns segments closed mid-stream and the
// flush result.
func stream(s *Segmenter, stretchesMS ...int) ([]Segment, Segment, bool) {
	var segments []Segment
	var offset time.Duration
	loud := true
	for _, ms := range stretchesMS {
		for fed := 0; fed < ms; fed += 30 {
			var amp int16
			if loud {
				amp = 3000
			}
			f := frame(offset, 30, amp)
			offset += f.Duration(testRate)
			segments = append(segments, s.Feed(f)...)
		}
		loud = !loud
	}
	tail, ok := s.Flush()
	return segments, tail, ok
}

func TestNoSpeechProducesNoSegments(t *testing.T) {
	s := New(testConfig(), testRate)
	segments, _, ok := stream(s, 0, 3000)
	if len(segments) != 0 || ok {
		t.Fatalf("expected no segments from silence, got %d (flush=%v)", len(segments), ok)
	}
}

func TestBlipShorterThanOnsetIgnored(t *testing.T) {
	s := New(testConfig(), testRate)
	// 60ms burst is below the 90ms onset debounce
	segments, _, ok := stream(s, 60, 1200)
	if len(segments) != 0 || ok {
		t.Fatalf("expected blip to be ignored, got %d segments (flush=%v)", len(segments), ok)
	}
}

func TestSpeechClosedByGap(t *testing.T) {
	s := New(testConfig(), testRate)
	segments, _, ok := stream(s, 900, 900)
	if ok {
		t.Fatalf("expected no flush remainder")
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	seg := segments[0]
	if seg.Duration() < 900*time.Millisecond {
		t.Fatalf("segment too short: %v", seg.Duration())
	}
	if len(seg.PCM)%2 != 0 || len(seg.PCM) == 0 {
		t.Fatalf("bad segment payload: %d bytes", len(seg.PCM))
	}
}

func TestShortGapDoesNotSplit(t *testing.T) {
	s := New(testConfig(), testRate)
	// 300ms pause is inside the 600ms gap tolerance
	segments, tail, ok := stream(s, 900, 300, 900)
	if len(segments) != 0 {
		t.Fatalf("expected pause to be bridged, got %d segments", len(segments))
	}
	if !ok {
		t.Fatalf("expected flush to return the open segment")
	}
	if tail.Duration() < 2*time.Second {
		t.Fatalf("bridged segment too short: %v", tail.Duration())
	}
}

func TestLongGapSplitsInTwo(t *testing.T) {
	s := New(testConfig(), testRate)
	segments, tail, ok := stream(s, 900, 900, 900)
	if len(segments) != 1 {
		t.Fatalf("expected first segment closed by gap, got %d", len(segments))
	}
	if !ok {
		t.Fatalf("expected second segment from flush")
	}
	if tail.Start <= segments[0].Start {
		t.Fatalf("segments out of order: %v then %v", segments[0].Start, tail.Start)
	}
}

func TestMaxLengthForcesEmit(t *testing.T) {
	s := New(testConfig(), testRate)
	// 6.3s sustained speech against a 5s cap
	segments, tail, ok := stream(s, 6300)
	if len(segments) != 1 {
		t.Fatalf("expected a forced segment, got %d", len(segments))
	}
	if segments[0].Duration() < 5*time.Second {
		t.Fatalf("forced segment shorter than cap: %v", segments[0].Duration())
	}
	if !ok {
		t.Fatalf("expected the remainder from flush")
	}
	if tail.Start < segments[0].End {
		t.Fatalf("remainder overlaps forced segment")
	}
}

func TestFlushDropsTinyRemainder(t *testing.T) {
	s := New(testConfig(), testRate)
	// 120ms passes onset but is under the 200ms minimum
	segments, _, ok := stream(s, 120)
	if len(segments) != 0 || ok {
		t.Fatalf("expected tiny remainder dropped, got %d segments (flush=%v)", len(segments), ok)
	}
}

func TestPreRollIncludedAtOnset(t *testing.T) {
	s := New(testConfig(), testRate)
	segments, tail, ok := stream(s, 0, 600, 900)
	if len(segments) != 0 || !ok {
		t.Fatalf("expected one flushed segment, got %d (flush=%v)", len(segments), ok)
	}
	// onset happened at 600ms; the 120ms pre-roll pulls the start earlier
	if tail.Start >= 600*time.Millisecond {
		t.Fatalf("pre-roll missing: segment starts at %v", tail.Start)
	}
	if tail.Start < 400*time.Millisecond {
		t.Fatalf("pre-roll too long: segment starts at %v", tail.Start)
	}
}
