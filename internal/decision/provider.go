package decision

import (
	"context"
	"fmt"
	"net/http"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider asks an OpenAI-compatible chat endpoint for decisions.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

func (p *OpenAIProvider) Decide(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, error) {
	prompt := BuildPrompt(req)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, &interfaces.ProviderError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &interfaces.ProviderError{Err: fmt.Errorf("no choices returned")}
	}

	result, err := ParseDecision(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, &interfaces.ProviderError{Err: err}
	}
	return result, nil
}
