// Package gateway fronts the speech-to-text and rewrite backends with a
// uniform contract: bounded deadlines, classified errors, and output cleanup.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/segment"
)

// Transcription is the result of one speech-to-text call.
type Transcription struct {
	Text       string
	Language   string
	Confidence float64
}

// Transcriber converts mono 16-bit LE PCM into text. language is a BCP-47
// code or empty for auto-detection.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Transcription, error)
}

// Rewriter cleans up a raw transcript. outputLanguage is empty to preserve
// the input language.
type Rewriter interface {
	Rewrite(ctx context.Context, text, outputLanguage string) (string, error)
}

// Gateway owns both backends and the policy around them.
type Gateway struct {
	transcriber Transcriber
	rewriter    Rewriter
	sampleRate  int

	defaultLanguage   string
	transcribeTimeout time.Duration
	rewriteTimeout    time.Duration
	rewriteEnabled    bool
	rewriteOnAuto     bool
	defaultOutput     string

	log *slog.Logger
}

// New wires the gateway from config, picking backends by mode.
func New(tcfg config.TranscriberConfig, rcfg config.RewriterConfig, sampleRate int, log *slog.Logger) (*Gateway, error) {
	var transcriber Transcriber
	var err error
	switch tcfg.Mode {
	case "exec":
		transcriber, err = NewExecTranscriber(tcfg)
	case "http":
		transcriber = NewHTTPTranscriber(tcfg)
	case "mock":
		transcriber = &MockTranscriber{}
	default:
		err = fmt.Errorf("unknown transcriber mode %q", tcfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	var rewriter Rewriter
	if rcfg.Enabled {
		switch rcfg.Mode {
		case "ollama":
			rewriter = NewOllamaRewriter(rcfg)
		case "openai":
			rewriter = NewOpenAIRewriter(rcfg)
		case "exec":
			rewriter, err = NewExecRewriter(rcfg)
		case "mock":
			rewriter = &MockRewriter{}
		default:
			err = fmt.Errorf("unknown rewriter mode %q", rcfg.Mode)
		}
		if err != nil {
			return nil, err
		}
	}

	defaultLanguage := tcfg.Language
	if defaultLanguage == "auto" {
		defaultLanguage = ""
	}
	defaultOutput := rcfg.OutputLanguage
	if defaultOutput == "auto" {
		defaultOutput = ""
	}

	return &Gateway{
		transcriber:       transcriber,
		rewriter:          rewriter,
		sampleRate:        sampleRate,
		defaultLanguage:   defaultLanguage,
		transcribeTimeout: time.Duration(tcfg.TimeoutMS) * time.Millisecond,
		rewriteTimeout:    time.Duration(rcfg.TimeoutMS) * time.Millisecond,
		rewriteEnabled:    rcfg.Enabled,
		rewriteOnAuto:     rcfg.RewriteOnAuto,
		defaultOutput:     defaultOutput,
		log:               log,
	}, nil
}

// NewWithBackends builds a gateway around explicit backends. Tests use this
// to inject fakes without config plumbing.
func NewWithBackends(transcriber Transcriber, rewriter Rewriter, sampleRate int, transcribeTimeout, rewriteTimeout time.Duration, log *slog.Logger) *Gateway {
	return &Gateway{
		transcriber:       transcriber,
		rewriter:          rewriter,
		sampleRate:        sampleRate,
		transcribeTimeout: transcribeTimeout,
		rewriteTimeout:    rewriteTimeout,
		rewriteEnabled:    rewriter != nil,
		rewriteOnAuto:     true,
		log:               log,
	}
}

// RewriteEnabled reports whether a rewrite backend is configured.
func (g *Gateway) RewriteEnabled() bool { return g.rewriteEnabled }

// RewriteOnAuto reports whether automatic-close sessions go through rewrite.
func (g *Gateway) RewriteOnAuto() bool { return g.rewriteOnAuto }

// DefaultOutputLanguage is the configured rewrite target, empty to preserve.
func (g *Gateway) DefaultOutputLanguage() string { return g.defaultOutput }

// Transcribe joins the ordered segments into one utterance and runs it
// through the speech backend. language overrides the configured default;
// "auto" or empty defers to detection.
func (g *Gateway) Transcribe(ctx context.Context, segments []segment.Segment, language string) (Transcription, error) {
	var total int
	for _, s := range segments {
		total += len(s.PCM)
	}
	if total == 0 {
		return Transcription{}, invalidAudio("transcribe", errors.New("no audio in segments"))
	}
	pcm := make([]byte, 0, total)
	for _, s := range segments {
		pcm = append(pcm, s.PCM...)
	}

	if language == "" || language == "auto" {
		language = g.defaultLanguage
	}

	if g.transcribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.transcribeTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := g.transcriber.Transcribe(ctx, pcm, g.sampleRate, language)
	if err != nil {
		return Transcription{}, classify("transcribe", err)
	}
	result.Text = CleanTranscript(result.Text)
	if result.Language == "" {
		result.Language = language
	}
	g.log.Debug("transcription finished",
		slog.String("component", "gateway"),
		slog.Duration("elapsed", time.Since(started)),
		slog.Int("chars", len(result.Text)))
	return result, nil
}

// Rewrite cleans up text through the rewrite backend and sanitizes the
// model output. With no backend configured the input passes through.
func (g *Gateway) Rewrite(ctx context.Context, text, outputLanguage string) (string, error) {
	if !g.rewriteEnabled || g.rewriter == nil {
		return text, nil
	}
	if outputLanguage == "" || outputLanguage == "auto" {
		outputLanguage = g.defaultOutput
	}

	if g.rewriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.rewriteTimeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := g.rewriter.Rewrite(ctx, text, outputLanguage)
	if err != nil {
		return "", classify("rewrite", err)
	}
	cleaned := SanitizeRewrite(raw)
	if cleaned == "" {
		// A rewrite that erased everything is worse than no rewrite.
		g.log.Warn("rewrite produced empty output, keeping raw transcript",
			slog.String("component", "gateway"))
		return text, nil
	}
	g.log.Debug("rewrite finished",
		slog.String("component", "gateway"),
		slog.Duration("elapsed", time.Since(started)),
		slog.Bool("changed", cleaned != text))
	return cleaned, nil
}
