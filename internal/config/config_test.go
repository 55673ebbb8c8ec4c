package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Capture.Channel != "desktop" {
		t.Fatalf("expected default capture channel, got %q", cfg.Capture.Channel)
	}
	if cfg.Segmenter.GapMS != 2000 {
		t.Fatalf("expected default gap 2000ms, got %d", cfg.Segmenter.GapMS)
	}
	if !cfg.Rewriter.RewriteOnAuto {
		t.Fatal("expected rewrite_on_auto default true")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	data := []byte(`
transcriber:
  mode: exec
  command: "whisper-cli --json"
  language: de
segmenter:
  gap_ms: 900
  min_segment_ms: 150
rewriter:
  enabled: true
  mode: ollama
  output_language: en
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcriber.Mode != "exec" || cfg.Transcriber.Command == "" {
		t.Fatalf("expected exec transcriber, got %+v", cfg.Transcriber)
	}
	if cfg.Transcriber.Language != "de" {
		t.Fatalf("expected language de, got %q", cfg.Transcriber.Language)
	}
	if cfg.Segmenter.GapMS != 900 {
		t.Fatalf("expected gap 900, got %d", cfg.Segmenter.GapMS)
	}
	if cfg.Rewriter.OutputLanguage != "en" {
		t.Fatalf("expected output language en, got %q", cfg.Rewriter.OutputLanguage)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SCRIBE_CAPTURE_CHANNEL", "laptop")
	t.Setenv("SCRIBE_CAPTURE_MIN_HOLD_MS", "400")
	t.Setenv("SCRIBE_SEGMENTER_RMS_THRESHOLD", "550.5")
	t.Setenv("SCRIBE_TRANSCRIBER_LANGUAGE", "fr")
	t.Setenv("SCRIBE_REWRITER_ENABLED", "true")
	t.Setenv("SCRIBE_REWRITER_MODE", "mock")
	t.Setenv("SCRIBE_DELIVERY_MODE", "clipboard")
	t.Setenv("SCRIBE_HISTORY_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Capture.Channel != "laptop" {
		t.Fatalf("expected channel override, got %q", cfg.Capture.Channel)
	}
	if cfg.Capture.MinHoldMS != 400 {
		t.Fatalf("expected min hold 400, got %d", cfg.Capture.MinHoldMS)
	}
	if cfg.Segmenter.RMSThreshold != 550.5 {
		t.Fatalf("expected threshold override, got %v", cfg.Segmenter.RMSThreshold)
	}
	if cfg.Transcriber.Language != "fr" {
		t.Fatalf("expected language override, got %q", cfg.Transcriber.Language)
	}
	if !cfg.Rewriter.Enabled {
		t.Fatal("expected rewriter enabled override")
	}
	if cfg.Delivery.Mode != "clipboard" {
		t.Fatalf("expected delivery mode override, got %q", cfg.Delivery.Mode)
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override, got %q", cfg.History.RetentionMode)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("SCRIBE_TRANSCRIBER_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown transcriber mode")
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	t.Setenv("SCRIBE_TRANSCRIBER_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}
