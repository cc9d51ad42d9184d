package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/internal/config"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
)

// NewFromConfig builds the configured proposer backend.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (engine.Proposer, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		client, err := NewGeminiClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewProposer(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
