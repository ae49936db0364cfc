package services

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"ava-backend/internal/models"
)

// LangchainChat talks to OpenAI chat completions through langchaingo, with
// one model per tier.
type LangchainChat struct {
	chat    llms.Model
	summary llms.Model
}

func NewLangchainChat(apiKey, chatModel, summaryModel string) (*LangchainChat, error) {
	chat, err := openai.New(openai.WithToken(apiKey), openai.WithModel(chatModel))
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	summary, err := openai.New(openai.WithToken(apiKey), openai.WithModel(summaryModel))
	if err != nil {
		return nil, fmt.Errorf("create openai summary model: %w", err)
	}
	return &LangchainChat{chat: chat, summary: summary}, nil
}

func (c *LangchainChat) Complete(ctx context.Context, tier Tier, msgs []models.ChatMessage) (string, error) {
	model := c.chat
	if tier == TierSummary {
		model = c.summary
	}

	resp, err := model.GenerateContent(ctx, toMessageContent(msgs))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(msgs []models.ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
