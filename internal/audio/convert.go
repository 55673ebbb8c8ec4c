package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"
)

// Converter turns a browser-recorded audio container (webm/ogg/mp4) into the
// PCM frame contract by shelling out to an ffmpeg-compatible tool.
type Converter struct {
	cmd        []string
	sampleRate int
	timeout    time.Duration
}

func NewConverter(command string, sampleRate int, timeout time.Duration) (*Converter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse convert command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("convert command is empty")
	}
	return &Converter{cmd: args, sampleRate: sampleRate, timeout: timeout}, nil
}

// Convert decodes blob into mono 16-bit PCM at the converter's sample rate.
func (c *Converter) Convert(ctx context.Context, blob []byte) ([]byte, error) {
	in, err := os.CreateTemp("", "scribe_in_*.bin")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(blob); err != nil {
		in.Close()
		return nil, fmt.Errorf("write blob: %w", err)
	}
	in.Close()

	out, err := os.CreateTemp("", "scribe_out_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	base := c.cmd[0]
	args := append([]string{}, c.cmd[1:]...)
	args = append(args,
		"-y",
		"-i", in.Name(),
		"-ar", strconv.Itoa(c.sampleRate),
		"-ac", "1",
		"-acodec", "pcm_s16le",
		outPath,
	)

	command := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("convert command failed: %w: %s", err, stderr.String())
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("open converted wav: %w", err)
	}
	defer f.Close()

	pcm, rate, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	if rate != c.sampleRate {
		return nil, fmt.Errorf("converted wav has sample rate %d, want %d", rate, c.sampleRate)
	}
	return pcm, nil
}
