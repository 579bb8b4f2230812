package interfaces

import "context"

// LLM provider names accepted by configuration
const (
	LLMProviderClaude = "claude"
	LLMProviderGemini = "gemini"
)

// LLMService is a minimal completion interface over a hosted model.
// Prompts are provider-agnostic; the provider is a deployment choice.
type LLMService interface {
	// Complete sends a system prompt and user prompt and returns the raw
	// model text. Callers own response parsing and retries.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Provider returns the configured provider name
	Provider() string

	// HealthCheck verifies the provider is configured and reachable
	HealthCheck(ctx context.Context) error

	Close() error
}
