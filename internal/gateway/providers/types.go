package providers

import (
	"context"
)

// GenerationConfig holds sampling parameters for one call
type GenerationConfig struct {
	Temperature     float32
	MaxOutputTokens int
}

// GenerateRequest is a single-turn text generation request
type GenerateRequest struct {
	Prompt string
	Config GenerationConfig
}

// Generator is the remote text-generation collaborator bound to one
// credential. Failures are returned as *failure.Error with their kind
// already classified.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	GetProviderName() string
}
