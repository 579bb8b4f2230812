package semantic

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// NewLLMService builds the configured LLM provider
func NewLLMService(ctx context.Context, config *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	switch config.LLM.DefaultProvider {
	case interfaces.LLMProviderClaude:
		return NewClaudeService(&config.Claude, logger)
	case interfaces.LLMProviderGemini:
		return NewGeminiService(ctx, &config.Gemini, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.LLM.DefaultProvider)
	}
}
