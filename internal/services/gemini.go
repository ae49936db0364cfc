package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"ava-backend/internal/models"
)

// GeminiChat serves completions from a Gemini model. Concurrent requests are
// bounded by a token bucket.
type GeminiChat struct {
	client    *genai.Client
	modelName string
	rateChan  chan struct{} // Token bucket
}

func NewGeminiChat(ctx context.Context, apiKey, modelName string, concurrentReqs int) (*GeminiChat, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiChat{client: client, modelName: modelName, rateChan: rateChan}, nil
}

func (g *GeminiChat) Close() {
	g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiChat) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiChat) releaseRate() {
	g.rateChan <- struct{}{}
}

func (g *GeminiChat) Complete(ctx context.Context, tier Tier, msgs []models.ChatMessage) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	model := g.client.GenerativeModel(g.modelName)
	if tier == TierSummary {
		model.SetTemperature(0.3)
	}

	system, history, last := splitForGemini(msgs)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Warn().Int("candidate", i).Str("finish_reason", cand.FinishReason.String()).Msg("gemini stopped early")
		}
	}

	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// splitForGemini separates system content, prior turns and the final user
// message. Consecutive turns with the same role are merged.
func splitForGemini(msgs []models.ChatMessage) (system string, history []*genai.Content, last string) {
	var systems []string
	var turns []models.ChatMessage
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			systems = append(systems, m.Content)
			continue
		}
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, models.ChatMessage{Role: role, Content: m.Content})
	}
	system = strings.Join(systems, "\n\n")

	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		last = turns[n-1].Content
		turns = turns[:n-1]
	}
	for _, t := range turns {
		history = append(history, &genai.Content{Role: t.Role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return system, history, last
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
