package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
)

// GeminiProvider handles Google Gemini API requests for one API key
type GeminiProvider struct {
	model  string
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		model:  strings.TrimPrefix(model, "models/"),
		client: client,
	}, nil
}

// Generate makes a single-turn generateContent call
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), geminiConfig(req.Config))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	return collectGeminiText(resp), nil
}

// geminiConfig always sends the configured temperature, zero included
func geminiConfig(c GenerationConfig) *genai.GenerateContentConfig {
	temp := c.Temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if c.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(c.MaxOutputTokens)
	}
	return cfg
}

// GetProviderName returns the provider name
func (p *GeminiProvider) GetProviderName() string {
	return "google"
}

func collectGeminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// classifyGeminiError maps an SDK error to a failure kind
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		if failure.IsTransport(err) {
			return failure.Wrap(failure.NetworkTransient, fmt.Errorf("Gemini API error: %w", err))
		}
		return failure.Wrap(failure.Unclassified, fmt.Errorf("Gemini API error: %w", err))
	}

	fe := failure.Wrap(kindForStatus(apiErr.Code, apiErr.Status, zeroQuotaInDetails(apiErr.Details) || hasZeroQuotaMarker(apiErr.Message)),
		fmt.Errorf("Gemini API error (status %d): %w", apiErr.Code, err))
	fe.StatusCode = apiErr.Code
	return fe
}

// zeroQuotaInDetails looks for google.rpc.ErrorInfo metadata reporting a
// quota limit of zero, which means the key has no quota at all.
func zeroQuotaInDetails(details []map[string]any) bool {
	for _, d := range details {
		meta, ok := d["metadata"].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := meta["quota_limit_value"].(string); ok && v == "0" {
			return true
		}
	}
	return false
}
