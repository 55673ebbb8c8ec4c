package gateway

import (
	"context"
	"sync"
	"time"
)

// MockTranscriber echoes canned results. The zero value reports the audio
// length, which is enough for wiring checks without a model.
type MockTranscriber struct {
	Text     string
	Language string
	Err      error
	Delay    time.Duration

	mu    sync.Mutex
	calls int
}

func (m *MockTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Transcription, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Transcription{}, ctx.Err()
		}
	}
	if m.Err != nil {
		return Transcription{}, m.Err
	}
	text := m.Text
	if text == "" {
		text = "mock transcript"
	}
	lang := m.Language
	if lang == "" {
		lang = language
	}
	return Transcription{Text: text, Language: lang, Confidence: 1}, nil
}

// Calls reports how many transcriptions ran.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRewriter returns Text when set, otherwise passes the input through.
type MockRewriter struct {
	Text  string
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	calls int
	last  string
}

func (m *MockRewriter) Rewrite(ctx context.Context, text, outputLanguage string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.last = text
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Text != "" {
		return m.Text, nil
	}
	return text, nil
}

func (m *MockRewriter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockRewriter) LastInput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
