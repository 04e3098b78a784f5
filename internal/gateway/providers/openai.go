package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
)

// OpenAIProvider handles OpenAI-compatible chat completion requests for one API key
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider. baseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Generate sends the prompt as a single user message
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	openaiReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Config.Temperature,
		MaxTokens:   req.Config.MaxOutputTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GetProviderName returns the provider name
func (p *OpenAIProvider) GetProviderName() string {
	return "openai"
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		zeroQuota := fmt.Sprint(apiErr.Code) == "insufficient_quota" || apiErr.Type == "insufficient_quota"
		fe := failure.Wrap(kindForStatus(apiErr.HTTPStatusCode, "", zeroQuota),
			fmt.Errorf("OpenAI API error (status %d): %w", apiErr.HTTPStatusCode, err))
		fe.StatusCode = apiErr.HTTPStatusCode
		return fe
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		fe := failure.Wrap(kindForStatus(reqErr.HTTPStatusCode, "", hasZeroQuotaMarker(err.Error())),
			fmt.Errorf("OpenAI API error (status %d): %w", reqErr.HTTPStatusCode, err))
		fe.StatusCode = reqErr.HTTPStatusCode
		return fe
	}

	if failure.IsTransport(err) {
		return failure.Wrap(failure.NetworkTransient, fmt.Errorf("OpenAI API error: %w", err))
	}
	return failure.Wrap(failure.Unclassified, fmt.Errorf("OpenAI API error: %w", err))
}
