package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"ava-backend/internal/models"
	"ava-backend/internal/scheduler"
)

// ChatService builds prompts and asks the configured model for Ava's turns
// and for session analyses.
type ChatService struct {
	model ChatModel
}

func NewChatService(model ChatModel) *ChatService {
	return &ChatService{model: model}
}

// Reply returns Ava's next utterance for a chat request.
func (s *ChatService) Reply(ctx context.Context, req models.ChatRequest) (string, error) {
	msgs := BuildChatMessages(req)
	log.Debug().Int("messages", len(msgs)).Str("test_url", req.TestURL).Msg("chat completion request")
	return s.complete(ctx, TierChat, msgs)
}

// Respond adapts Reply to the live scheduler.
func (s *ChatService) Respond(ctx context.Context, p scheduler.Prompt) (string, error) {
	return s.Reply(ctx, p.Request)
}

// Summarize analyses one session.
func (s *ChatService) Summarize(ctx context.Context, req models.SummaryRequest) (string, error) {
	system, user := BuildSessionSummaryPrompt(req)
	return s.complete(ctx, TierSummary, []models.ChatMessage{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	})
}

// SummarizeSessions analyses several stored sessions together.
func (s *ChatService) SummarizeSessions(ctx context.Context, sessions []models.TestSession) (*models.CrossSessionSummary, error) {
	in := AggregateSessions(sessions)
	text, err := s.complete(ctx, TierSummary, []models.ChatMessage{
		{Role: models.RoleUser, Content: BuildCrossSessionPrompt(in)},
	})
	if err != nil {
		return nil, err
	}
	return &models.CrossSessionSummary{
		Summary:        text,
		SessionCount:   len(sessions),
		AggregatedData: in.Aggregated(),
	}, nil
}

func (s *ChatService) complete(ctx context.Context, tier Tier, msgs []models.ChatMessage) (string, error) {
	text, err := s.model.Complete(ctx, tier, msgs)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
