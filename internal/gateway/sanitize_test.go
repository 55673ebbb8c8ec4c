package gateway

import (
	"strings"
	"testing"
)

func TestSanitizeStripsStopTokens(t *testing.T) {
	got := SanitizeRewrite("Fix the login bug.<|im_end|>")
	if got != "Fix the login bug." {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestSanitizeStripsPreamble(t *testing.T) {
	cases := map[string]string{
		"Here is the corrected text: Deploy the service.": "Deploy the service.",
		"Sure, here's the text: Run the migration.":       "Run the migration.",
		"Output: Add a retry loop.":                       "Add a retry loop.",
	}
	for in, want := range cases {
		if got := SanitizeRewrite(in); got != want {
			t.Fatalf("SanitizeRewrite(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeUnwrapsQuotes(t *testing.T) {
	got := SanitizeRewrite(`"Refactor the parser."`)
	if got != "Refactor the parser." {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestSanitizeCollapsesRepetition(t *testing.T) {
	got := SanitizeRewrite("Check the logs.\nCheck the logs.\nCheck the logs.")
	if got != "Check the logs." {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestSanitizeKeepsMultilineContent(t *testing.T) {
	in := "First step.\nSecond step."
	if got := SanitizeRewrite(in); got != in {
		t.Fatalf("multiline content mangled: %q", got)
	}
}

func TestCleanTranscriptRemovesArtifacts(t *testing.T) {
	if got := CleanTranscript(" [BLANK_AUDIO] "); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
	if got := CleanTranscript("hello world [NOISE]"); got != "hello world" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestRewritePromptLanguageClause(t *testing.T) {
	if p := BuildRewritePrompt(""); !strings.Contains(p, "Preserve the original language") {
		t.Fatalf("preserve clause missing: %q", p)
	}
	p := BuildRewritePrompt("pt")
	if !strings.Contains(p, "Portuguese") || !strings.Contains(p, "Translate") {
		t.Fatalf("translate clause missing: %q", p)
	}
}
