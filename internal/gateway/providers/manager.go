package providers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/config"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/logger"
)

// Set is one generator per configured credential, in key order
type Set struct {
	Generators []Generator
	Labels     []string
}

// NewSet builds a generator for every key of the selected upstream provider.
// Keys that fail to initialize are skipped; an empty result is an error.
func NewSet(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Set, error) {
	keys := cfg.APIKeys()
	// Per-call deadlines come from the orchestrator; this is a backstop
	httpClient := &http.Client{Timeout: 2 * cfg.UpstreamTimeout}

	set := &Set{}
	for i, key := range keys {
		var gen Generator
		switch cfg.Provider {
		case config.ProviderOpenAI:
			gen = NewOpenAIProvider(key, cfg.OpenAIBaseURL, cfg.OpenAIModel, httpClient)
		default:
			g, err := NewGeminiProvider(ctx, key, cfg.GeminiModel, httpClient)
			if err != nil {
				log.Error("failed to initialize API instance", zap.Int("key_index", i+1), zap.Error(err))
				continue
			}
			gen = g
		}

		set.Generators = append(set.Generators, gen)
		set.Labels = append(set.Labels, logger.MaskKey(key))
		log.Info("API instance initialized", zap.Int("key_index", i+1), zap.String("provider", gen.GetProviderName()))
	}

	if len(set.Generators) == 0 {
		return nil, fmt.Errorf("no valid API keys could be initialized (%d configured)", len(keys))
	}

	log.Info("credential pool ready",
		zap.Int("initialized", len(set.Generators)),
		zap.Int("configured", len(keys)))
	return set, nil
}
