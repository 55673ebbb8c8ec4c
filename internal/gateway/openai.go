package gateway

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/scribelabs/scribe-core/internal/config"
)

// OpenAIRewriter runs the cleanup prompt against an OpenAI-compatible chat
// completions API.
type OpenAIRewriter struct {
	client      oai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIRewriter(cfg config.RewriterConfig) *OpenAIRewriter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &OpenAIRewriter{
		client:      oai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (r *OpenAIRewriter) Rewrite(ctx context.Context, text, outputLanguage string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(r.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(BuildRewritePrompt(outputLanguage)),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(r.temperature),
	}
	if r.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(boundedTokens(r.maxTokens, text)))
	}

	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
