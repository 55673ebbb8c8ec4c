package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/scribelabs/scribe-core/internal/config"
)

// OllamaRewriter runs the transcript cleanup prompt against a local ollama
// instance.
type OllamaRewriter struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaRewriter(cfg config.RewriterConfig) *OllamaRewriter {
	return &OllamaRewriter{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{},
	}
}

func (r *OllamaRewriter) Rewrite(ctx context.Context, text, outputLanguage string) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  r.model,
		Prompt: text,
		System: BuildRewritePrompt(outputLanguage),
		Stream: false,
		Options: ollamaOptions{
			Temperature: r.temperature,
			NumPredict:  boundedTokens(r.maxTokens, text),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return result.Response, nil
}

// boundedTokens caps generation relative to the input so a runaway model
// cannot pad a short utterance into an essay.
func boundedTokens(configured int, text string) int {
	if configured <= 0 {
		return 0
	}
	words := len(strings.Fields(text))
	limit := words * 3
	if limit < 50 {
		limit = 50
	}
	if limit > configured {
		return configured
	}
	return limit
}
