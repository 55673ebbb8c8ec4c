package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

// ExecSource runs a capture command (arecord, sox, pw-record) and reads raw
// mono 16-bit LE PCM from its stdout in fixed frame-sized blocks.
type ExecSource struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	ch     chan audio.Frame
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// StartExec launches the capture command. The stream ends when the command
// exits or Close is called.
func StartExec(ctx context.Context, cfg config.CaptureConfig, log *slog.Logger) (*ExecSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start capture command: %w", err)
	}

	s := &ExecSource{
		cmd:    cmd,
		cancel: cancel,
		ch:     make(chan audio.Frame, 32),
		log:    log,
	}
	go s.read(stdout, cfg.SampleRate, cfg.FrameMS)
	return s, nil
}

func (s *ExecSource) read(stdout io.Reader, sampleRate, frameMS int) {
	defer close(s.ch)
	defer s.cmd.Wait()

	frameBytes := sampleRate * frameMS / 1000 * 2
	buf := make([]byte, frameBytes)
	var offset time.Duration
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			pcm := make([]byte, n)
			copy(pcm, buf[:n])
			frame := audio.Frame{PCM: pcm, Offset: offset}
			offset += frame.Duration(sampleRate)
			select {
			case s.ch <- frame:
			default:
				s.log.Warn("dropping audio frame, consumer behind",
					slog.String("component", "capture"))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.log.Warn("capture read ended",
					slog.String("component", "capture"),
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *ExecSource) Frames() <-chan audio.Frame { return s.ch }

// Close stops the capture command. The frame channel closes once the reader
// drains the final partial frame.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}
