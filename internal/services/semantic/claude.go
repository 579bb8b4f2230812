package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// ClaudeService implements interfaces.LLMService using the Anthropic API
type ClaudeService struct {
	config *common.ClaudeConfig
	client anthropic.Client
	logger arbor.ILogger
}

// NewClaudeService creates a Claude-backed LLM service
func NewClaudeService(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}
	if config.Model == "" {
		config.Model = "claude-haiku-3-5-20241022"
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	logger.Debug().Str("model", config.Model).Msg("Claude service initialized")

	return &ClaudeService{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

func (s *ClaudeService) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	maxTokens := s.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.config.Temperature))
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}
	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), nil
}

func (s *ClaudeService) Provider() string {
	return interfaces.LLMProviderClaude
}

// HealthCheck verifies the API key is configured. A live round trip is
// intentionally avoided so status checks stay cheap.
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	if s.config.APIKey == "" {
		return fmt.Errorf("Anthropic API key not configured")
	}
	return nil
}

func (s *ClaudeService) Close() error {
	return nil
}
