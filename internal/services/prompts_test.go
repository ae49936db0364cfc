package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ava-backend/internal/models"
)

func TestDomainFromURL(t *testing.T) {
	assert.Equal(t, "example.com", domainFromURL("https://www.example.com/path"))
	assert.Equal(t, "shop.example.com", domainFromURL("https://shop.example.com"))
	assert.Equal(t, "the website", domainFromURL(""))
	assert.Equal(t, "the website", domainFromURL("not a url"))
}

func TestBuildChatMessages_RolesAndTrailingContext(t *testing.T) {
	msgs := BuildChatMessages(models.ChatRequest{
		TestURL: "https://www.example.com",
		Messages: []models.ChatTurn{
			{Speaker: "ai", Text: "What brings you here?"},
			{Speaker: "user", Text: "Looking for shoes"},
			{Speaker: "assistant", Content: "Great, where would you start?"},
			{Speaker: "narrator", Text: "unknown speaker"},
			{Speaker: "user"},
		},
		UserEvents: []models.UserEvent{
			{Type: models.EventClick, Data: map[string]any{"tag": "button", "text": "Shop"}},
		},
	})

	require.Len(t, msgs, 6)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You're helping a user test example.com.")
	assert.Contains(t, msgs[0].Content, `- click: {"tag":"button","text":"Shop"}`)
	assert.NotContains(t, msgs[0].Content, "Additional context")

	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, models.RoleUser, msgs[2].Role)
	assert.Equal(t, models.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "Great, where would you start?", msgs[3].Content)
	assert.Equal(t, models.RoleAssistant, msgs[4].Role)

	last := msgs[5]
	assert.Equal(t, models.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, `You are conducting a usability test for example.com. The user just performed a click action: {"tag":"button","text":"Shop"}.`))
	assert.True(t, strings.HasSuffix(last.Content, "As a usability testing agent for example.com, what should your ideal response be?"))
}

func TestBuildChatMessages_NoHistory(t *testing.T) {
	msgs := BuildChatMessages(models.ChatRequest{Context: "The user just performed a click action."})

	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "No recent user actions.")
	assert.Contains(t, msgs[0].Content, "\n\nAdditional context: The user just performed a click action.")
	assert.Contains(t, msgs[1].Content, "The user is exploring the website.")
	assert.Contains(t, msgs[1].Content, "usability test for the website.")
}

func TestBuildChatMessages_OnlyLastTenEvents(t *testing.T) {
	var events []models.UserEvent
	for i := 0; i < 12; i++ {
		events = append(events, models.UserEvent{Type: fmt.Sprintf("e%02d", i)})
	}
	msgs := BuildChatMessages(models.ChatRequest{UserEvents: events})

	assert.NotContains(t, msgs[0].Content, "- e01:")
	assert.Contains(t, msgs[0].Content, "- e02: {}")
	assert.Contains(t, msgs[0].Content, "- e11: {}")
	assert.Contains(t, msgs[1].Content, "The user just performed a e11 action.")
}

func TestBuildChatMessages_WalkthroughContext(t *testing.T) {
	explicit := BuildChatMessages(models.ChatRequest{WalkthroughContext: "Checkout has three steps."})
	assert.Contains(t, explicit[0].Content, "\n\nSite-specific context to reference:\nCheckout has three steps.")
	assert.Contains(t, explicit[1].Content, "\n\nReference walkthrough details:\nCheckout has three steps.")

	demo := BuildChatMessages(models.ChatRequest{TestURL: "https://scoot-tweak-89829545.figma.site/"})
	assert.Contains(t, demo[0].Content, "Site-specific context to reference:\nYou are guiding a usability walkthrough of the ChatGPT Trends concept site.")

	none := BuildChatMessages(models.ChatRequest{TestURL: "https://example.com"})
	assert.NotContains(t, none[0].Content, "Site-specific context")
	assert.NotContains(t, none[1].Content, "Reference walkthrough details")
}

func TestBuildSessionSummaryPrompt(t *testing.T) {
	system, user := BuildSessionSummaryPrompt(models.SummaryRequest{
		TestURL: "https://www.example.com",
		UserEvents: []models.UserEvent{
			{Type: models.EventPageLoad, ElapsedTime: 400, Data: map[string]any{"url": "https://www.example.com"}},
			{Type: "rerender", Source: models.DevToolsSource, ElapsedTime: 900},
			{Type: models.EventQuestionAsked, ElapsedTime: 4000},
			{Type: models.EventClick, ElapsedTime: 6500},
			{Type: "", ElapsedTime: 7000},
		},
		ConversationHistory: []models.ConversationMessage{
			{Speaker: models.SpeakerAI, Text: "What do you see?"},
			{Speaker: models.SpeakerUser, Text: "A hero banner"},
		},
		SurveyAnswers: map[string]int{"2": 4, "1": 5, "9": 3},
	})

	assert.Equal(t, summarySystemPrompt, system)
	assert.Contains(t, user, "Analyze this usability testing session for example.com")
	assert.Contains(t, user, "1. [0s] page_load: {\"url\":\"https://www.example.com\"}\n2. [7s] click\n\n")
	assert.NotContains(t, user, "rerender")
	assert.NotContains(t, user, "question_asked")
	assert.Contains(t, user, "1. Ava: What do you see?\n2. User: A hero banner")
	assert.Contains(t, user, "- How likely are you to recommend this website to a friend?: 5/5\n- How easy was it to find what you were looking for?: 4/5\n- Question 9: 3/5")
}

func TestBuildSessionSummaryPrompt_Empty(t *testing.T) {
	_, user := BuildSessionSummaryPrompt(models.SummaryRequest{})
	assert.Contains(t, user, "No user actions recorded.")
	assert.Contains(t, user, "No conversation recorded.")
	assert.Contains(t, user, "No survey responses.")
}

func TestCrossSessionPrompt(t *testing.T) {
	summary := "Struggled with checkout"
	sessions := []models.TestSession{
		{
			TestURL:             "https://a.example.com",
			UserEvents:          []models.UserEvent{{Type: "click"}, {Type: "click"}, {Type: "page_load"}},
			ConversationHistory: []models.ConversationMessage{{Speaker: "ai", Text: "Hi"}},
			SurveyAnswers:       map[string]int{"1": 4, "2": 3},
			Summary:             &summary,
		},
		{
			TestURL:             "https://a.example.com",
			UserEvents:          []models.UserEvent{{Type: "route_change"}},
			ConversationHistory: []models.ConversationMessage{{Speaker: "user", Text: "Where is the cart?"}},
			SurveyAnswers:       map[string]int{"1": 5},
		},
		{
			TestURL: "https://b.example.com",
		},
	}

	in := AggregateSessions(sessions)
	assert.Equal(t, models.AggregatedData{TotalEvents: 4, TotalConversations: 2, SurveyResponses: 2}, in.Aggregated())

	prompt := BuildCrossSessionPrompt(in)
	assert.Contains(t, prompt, "Analyze 3 usability testing sessions for https://a.example.com, https://b.example.com")
	assert.Contains(t, prompt, "**Aggregated User Actions (4 total):**\n- click: 2 occurrence(s)\n- page_load: 1 occurrence(s)\n- route_change: 1 occurrence(s)")
	assert.Contains(t, prompt, "1. Ava: Hi\n2. User: Where is the cart?")
	assert.Contains(t, prompt, "- How likely are you to recommend this website to a friend?: Average 4.5/5 (2 responses)")
	assert.Contains(t, prompt, "- How easy was it to find what you were looking for?: Average 3.0/5 (1 responses)")
	assert.Contains(t, prompt, "1. Session 1 (https://a.example.com): Struggled with checkout\n\n2. Session 2 (https://a.example.com): No summary available")
}

func TestCrossSessionPrompt_LimitsConversation(t *testing.T) {
	var convo []models.ConversationMessage
	for i := 0; i < 60; i++ {
		convo = append(convo, models.ConversationMessage{Speaker: "user", Text: fmt.Sprintf("m%d", i)})
	}
	prompt := BuildCrossSessionPrompt(AggregateSessions([]models.TestSession{{TestURL: "u", ConversationHistory: convo}}))

	assert.Contains(t, prompt, "(60 total messages, showing first 50)")
	assert.Contains(t, prompt, "50. User: m49")
	assert.NotContains(t, prompt, "51. User: m50")
}
