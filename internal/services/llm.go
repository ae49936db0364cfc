package services

import (
	"context"
	"fmt"

	"ava-backend/internal/config"
	"ava-backend/internal/models"
)

// Tier selects the model used for a completion.
type Tier int

const (
	// TierChat serves live conversational turns.
	TierChat Tier = iota
	// TierSummary serves post-session analysis.
	TierSummary
)

// ChatModel produces a single assistant completion for a role-tagged
// conversation.
type ChatModel interface {
	Complete(ctx context.Context, tier Tier, msgs []models.ChatMessage) (string, error)
}

// unavailableModel answers every call with ErrCollaboratorUnavailable.
type unavailableModel struct{ reason string }

func (m unavailableModel) Complete(context.Context, Tier, []models.ChatMessage) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrCollaboratorUnavailable, m.reason)
}

// NewChatModel builds the configured provider. Missing credentials are not a
// boot failure: the returned model reports ErrCollaboratorUnavailable on use.
// The template provider has no completion model and returns the unavailable
// model too; live sessions then use the template questioner.
func NewChatModel(ctx context.Context, cfg *config.Config) (ChatModel, func(), error) {
	noop := func() {}
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return unavailableModel{reason: "OPENAI_API_KEY not configured"}, noop, nil
		}
		m, err := NewLangchainChat(cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.OpenAISummaryModel)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return unavailableModel{reason: "GEMINI_API_KEY not configured"}, noop, nil
		}
		m, err := NewGeminiChat(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.LLMConcurrentReqs)
		if err != nil {
			return nil, noop, err
		}
		return m, m.Close, nil
	case config.ProviderTemplate:
		return unavailableModel{reason: "template provider has no completion model"}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}
