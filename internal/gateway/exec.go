package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

// ExecTranscriber shells out to a speech-to-text command. The audio goes in
// as a WAV temp file and the command prints a JSON result on stdout.
type ExecTranscriber struct {
	cmd       []string
	modelPath string
	mu        sync.Mutex
}

type execTranscriberResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

func NewExecTranscriber(cfg config.TranscriberConfig) (*ExecTranscriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	return &ExecTranscriber{cmd: args, modelPath: cfg.ModelPath}, nil
}

func (t *ExecTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Transcription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.CreateTemp("", "scribe_stt_*.wav")
	if err != nil {
		return Transcription{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, pcm, sampleRate); err != nil {
		return Transcription{}, err
	}

	base := t.cmd[0]
	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if t.modelPath != "" {
		args = append(args, "--model", t.modelPath)
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Transcription{}, fmt.Errorf("transcriber command failed: %w: %s", err, stderr.String())
	}

	var resp execTranscriberResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcription{}, fmt.Errorf("decode transcriber response: %w", err)
	}
	return Transcription{Text: resp.Text, Language: resp.Language, Confidence: resp.Confidence}, nil
}

// ExecRewriter pipes the transcript through a cleanup command: text on
// stdin, rewritten text on stdout.
type ExecRewriter struct {
	cmd []string
}

func NewExecRewriter(cfg config.RewriterConfig) (*ExecRewriter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse rewriter command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("rewriter command is empty")
	}
	return &ExecRewriter{cmd: args}, nil
}

func (r *ExecRewriter) Rewrite(ctx context.Context, text, outputLanguage string) (string, error) {
	base := r.cmd[0]
	args := append([]string{}, r.cmd[1:]...)
	if outputLanguage != "" {
		args = append(args, "--language", outputLanguage)
	}

	command := exec.CommandContext(ctx, base, args...)
	command.Stdin = strings.NewReader(text)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("rewriter command failed: %w: %s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}
