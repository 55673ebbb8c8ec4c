package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

// HTTPTranscriber posts WAV audio to a whisper.cpp server's /inference
// endpoint.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

type httpTranscriberResult struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

func NewHTTPTranscriber(cfg config.TranscriberConfig) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    strings.TrimRight(cfg.ServerURL, "/") + "/inference",
		client: &http.Client{},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Transcription, error) {
	var wavBuf seekableBuffer
	if err := audio.EncodeWAV(&wavBuf, pcm, sampleRate); err != nil {
		return Transcription{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Transcription{}, fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := part.Write(wavBuf.Bytes()); err != nil {
		return Transcription{}, fmt.Errorf("build multipart request: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return Transcription{}, fmt.Errorf("build multipart request: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return Transcription{}, fmt.Errorf("build multipart request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Transcription{}, fmt.Errorf("build multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return Transcription{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return Transcription{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcription{}, err
	}
	if resp.StatusCode >= 300 {
		return Transcription{}, fmt.Errorf("whisper server returned status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var result httpTranscriberResult
	if err := json.Unmarshal(data, &result); err != nil {
		return Transcription{}, fmt.Errorf("decode whisper server response: %w", err)
	}
	if result.Error != "" {
		return Transcription{}, fmt.Errorf("whisper server error: %s", result.Error)
	}
	return Transcription{Text: result.Text, Language: result.Language}, nil
}

// seekableBuffer adapts an in-memory buffer to the WriteSeeker the WAV
// encoder needs for its header patch.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.data) {
		grown := make([]byte, b.pos+len(p))
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = next
	return int64(next), nil
}

func (b *seekableBuffer) Bytes() []byte { return b.data }
