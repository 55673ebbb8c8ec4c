package pipeline

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/delivery"
	"github.com/scribelabs/scribe-core/internal/gateway"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSegmenterConfig() config.SegmenterConfig {
	return config.SegmenterConfig{
		RMSThreshold: 400,
		OnsetMinMS:   60,
		GapMS:        300,
		MinSegmentMS: 100,
		MaxSegmentMS: 10000,
		PreRollMS:    90,
	}
}

func testPipelineConfig() Config {
	return Config{
		Channel:    "desktop",
		SampleRate: 16000,
		Segmenter:  testSegmenterConfig(),
	}
}

func pcmStretch(ms int, amplitude int16) []byte {
	samples := 16000 * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

type fakeSink struct {
	mu        sync.Mutex
	notified  []string
	delivered []delivery.Outcome
}

func (f *fakeSink) Notify(ctx context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, sessionID)
}

func (f *fakeSink) Deliver(ctx context.Context, out delivery.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, out)
	return nil
}

func (f *fakeSink) outcomes() []delivery.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Outcome{}, f.delivered...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	sessions    []history.SessionRecord
	transitions []string
}

func (f *fakeRecorder) RecordSession(ctx context.Context, rec history.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, rec)
	return nil
}

func (f *fakeRecorder) RecordTransition(ctx context.Context, sessionID, state, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, state)
	return nil
}

func (f *fakeRecorder) states() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.transitions...)
}

// streamSource produces silent frames until closed, for tests that exercise
// Stop and Cancel during live capture.
type streamSource struct {
	ch   chan audio.Frame
	done chan struct{}
	once sync.Once
}

func newStreamSource() *streamSource {
	s := &streamSource{ch: make(chan audio.Frame), done: make(chan struct{})}
	go func() {
		defer close(s.ch)
		var offset time.Duration
		for {
			f := audio.Frame{PCM: make([]byte, 960), Offset: offset} // 30ms of silence
			offset += f.Duration(16000)
			select {
			case <-s.done:
				return
			case s.ch <- f:
			}
		}
	}()
	return s
}

func (s *streamSource) Frames() <-chan audio.Frame { return s.ch }

func (s *streamSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func newTestPipeline(t *testing.T, transcriber gateway.Transcriber, rewriter gateway.Rewriter, sink delivery.Channel, rec Recorder, notify Notifier) *Pipeline {
	t.Helper()
	gw := gateway.NewWithBackends(transcriber, rewriter, 16000, time.Second, time.Second, testLogger())
	return New(testPipelineConfig(), gw, sink, rec, notify, testLogger())
}

func TestSilenceOnlyCompletesWithNoSpeech(t *testing.T) {
	transcriber := &gateway.MockTranscriber{}
	sink := &fakeSink{}
	p := newTestPipeline(t, transcriber, nil, sink, &fakeRecorder{}, nil)

	src := capture.NewMemorySource(pcmStretch(1000, 0), 16000, 30)
	result := p.Run(context.Background(), src)

	if result.State != StateComplete || !result.NoSpeech {
		t.Fatalf("expected complete no-speech, got %+v", result)
	}
	if transcriber.Calls() != 0 {
		t.Fatalf("transcriber must not run on silence, got %d calls", transcriber.Calls())
	}
	outcomes := sink.outcomes()
	if len(outcomes) != 1 || !outcomes[0].NoSpeech {
		t.Fatalf("expected one no-speech outcome, got %+v", outcomes)
	}
}

func TestSpeechTranscribedAndDelivered(t *testing.T) {
	transcriber := &gateway.MockTranscriber{Text: "hello world", Language: "en"}
	sink := &fakeSink{}
	rec := &fakeRecorder{}
	var statuses []string
	notify := func(s protocol.SessionStatus) { statuses = append(statuses, s.State) }
	p := newTestPipeline(t, transcriber, nil, sink, rec, notify)

	src := capture.NewMemorySource(pcmStretch(1000, 3000), 16000, 30)
	result := p.Run(context.Background(), src)

	if result.State != StateComplete {
		t.Fatalf("expected complete, got %v (%v)", result.State, result.Err)
	}
	if result.Text != "hello world" || result.Language != "en" {
		t.Fatalf("unexpected result: %+v", result)
	}
	outcomes := sink.outcomes()
	if len(outcomes) != 1 || outcomes[0].Text != "hello world" {
		t.Fatalf("expected delivered text, got %+v", outcomes)
	}
	if len(sink.notified) != 1 {
		t.Fatalf("expected one processing notification, got %d", len(sink.notified))
	}

	want := []string{"capturing", "finalizing", "transcribing", "delivering", "complete"}
	got := rec.states()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
	if statuses[len(statuses)-1] != "complete" {
		t.Fatalf("last broadcast status = %q", statuses[len(statuses)-1])
	}
}

func TestRewriteApplied(t *testing.T) {
	transcriber := &gateway.MockTranscriber{Text: "raw words"}
	rewriter := &gateway.MockRewriter{Text: "Raw words."}
	sink := &fakeSink{}
	p := newTestPipeline(t, transcriber, rewriter, sink, &fakeRecorder{}, nil)

	src := capture.NewMemorySource(pcmStretch(800, 3000), 16000, 30)
	result := p.Run(context.Background(), src)

	if result.State != StateComplete {
		t.Fatalf("expected complete, got %v (%v)", result.State, result.Err)
	}
	if result.Text != "Raw words." || result.RawText != "raw words" {
		t.Fatalf("unexpected texts: %+v", result)
	}
}

func TestInferenceTimeoutDeliveredAsError(t *testing.T) {
	transcriber := &gateway.MockTranscriber{Delay: 300 * time.Millisecond}
	sink := &fakeSink{}
	gw := gateway.NewWithBackends(transcriber, nil, 16000, 20*time.Millisecond, time.Second, testLogger())
	p := New(testPipelineConfig(), gw, sink, &fakeRecorder{}, nil, testLogger())

	src := capture.NewMemorySource(pcmStretch(800, 3000), 16000, 30)
	result := p.Run(context.Background(), src)

	if result.State != StateErrored {
		t.Fatalf("expected errored, got %v", result.State)
	}
	if kind, ok := gateway.KindOf(result.Err); !ok || kind != gateway.Timeout {
		t.Fatalf("expected timeout classification, got %v", result.Err)
	}
	outcomes := sink.outcomes()
	if len(outcomes) != 1 || outcomes[0].Err == nil {
		t.Fatalf("expected error outcome delivered, got %+v", outcomes)
	}
}

func TestCancelDuringTranscribeDiscardsResult(t *testing.T) {
	transcriber := &gateway.MockTranscriber{Text: "late text", Delay: 200 * time.Millisecond}
	sink := &fakeSink{}
	p := newTestPipeline(t, transcriber, nil, sink, &fakeRecorder{}, nil)

	src := capture.NewMemorySource(pcmStretch(800, 3000), 16000, 30)
	results := make(chan Result, 1)
	go func() { results <- p.Run(context.Background(), src) }()

	deadline := time.Now().Add(2 * time.Second)
	for p.State() != StateTranscribing {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline never reached transcribing, state=%v", p.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
	p.Cancel()

	result := <-results
	if result.State != StateCancelled {
		t.Fatalf("expected cancelled, got %v", result.State)
	}
	if result.Text != "" {
		t.Fatalf("cancelled session must not carry text, got %q", result.Text)
	}
	if len(sink.outcomes()) != 0 {
		t.Fatalf("cancelled session must deliver nothing, got %+v", sink.outcomes())
	}
}

func TestStopEndsLiveCapture(t *testing.T) {
	transcriber := &gateway.MockTranscriber{}
	sink := &fakeSink{}
	p := newTestPipeline(t, transcriber, nil, sink, &fakeRecorder{}, nil)

	src := newStreamSource()
	results := make(chan Result, 1)
	go func() { results <- p.Run(context.Background(), src) }()

	time.Sleep(50 * time.Millisecond)
	p.Stop()

	select {
	case result := <-results:
		if result.State != StateComplete || !result.NoSpeech {
			t.Fatalf("expected no-speech completion, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline did not finish after stop")
	}
}

func TestCancelDuringCaptureStopsImmediately(t *testing.T) {
	transcriber := &gateway.MockTranscriber{}
	sink := &fakeSink{}
	p := newTestPipeline(t, transcriber, nil, sink, &fakeRecorder{}, nil)

	src := newStreamSource()
	results := make(chan Result, 1)
	go func() { results <- p.Run(context.Background(), src) }()

	time.Sleep(30 * time.Millisecond)
	p.Cancel()

	select {
	case result := <-results:
		if result.State != StateCancelled {
			t.Fatalf("expected cancelled, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline did not finish after cancel")
	}
	if transcriber.Calls() != 0 {
		t.Fatalf("transcriber must not run after capture cancel")
	}
	if len(sink.outcomes()) != 0 {
		t.Fatalf("cancelled session must deliver nothing")
	}
}
