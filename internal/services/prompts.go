package services

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"ava-backend/internal/democonfig"
	"ava-backend/internal/models"
	"ava-backend/internal/survey"
)

const (
	recentEventWindow        = 10
	crossSessionMessageLimit = 50
)

const chatSystemTemplate = `You are Ava, a friendly and empathetic UX research assistant conducting a usability test. You're helping a user test %s.

Your role:
- Ask thoughtful, non-intrusive questions about their experience
- Wait for natural pauses before speaking (3-5 seconds after actions)
- Be curious and non-judgmental
- Keep responses concise (1-2 sentences)
- Focus on understanding their experience, not testing them

Context about the test:
%s

Guidelines:
- If the user just performed an action (click, navigation, etc.), ask about their expectations or experience
- If they're speaking to you, respond naturally to what they said
- Don't ask too many questions in a row - let them explore
- Be conversational and warm, not robotic
- If they seem stuck or confused, offer gentle guidance
`

const chatContextTemplate = `You are conducting a usability test for %s. %s

The user is performing usability testing - they're exploring and interacting with the website while you observe and ask questions.

Recent user actions:
%s

As a usability testing agent for %s, what should your ideal response be?`

const summarySystemPrompt = `You are an expert UX researcher analyzing usability test results. Your task is to provide a comprehensive, insightful summary of a usability testing session.`

const summaryUserTemplate = `Analyze this usability testing session for %s and provide a comprehensive summary.

**User Actions Performed:**
%s

**Conversation History:**
%s

**Post-Test Survey Results:**
%s

Please provide a detailed analysis covering:
1. **Overall Experience**: What was the user's overall experience? What were their main goals?
2. **Intuitive Flows**: Which parts of the website were easy to use? What worked well?
3. **Pain Points**: Where did the user struggle? What was confusing or difficult?
4. **Key Insights**: What are the most important findings from this test?
5. **Recommendations**: What specific improvements would you suggest?

Format your response in clear sections with headers. Be specific and reference actual user actions and quotes from the conversation.`

const crossSessionTemplate = `Analyze %d usability testing sessions for %s and provide a comprehensive cross-session summary.

**Aggregated User Actions (%d total):**
%s

**Conversation History (%d total messages, showing first %d):**
%s

**Post-Test Survey Results (%d questions):**
%s

**Individual Session Summaries:**
%s

Please provide a detailed cross-session analysis covering:
1. **Overall Patterns**: What common behaviors and patterns emerged across all sessions?
2. **Consistent Pain Points**: What issues were encountered by multiple users?
3. **Success Patterns**: What worked well across sessions?
4. **Key Insights**: What are the most important findings when looking at all sessions together?
5. **Recommendations**: What specific improvements would you suggest based on the aggregated data?

Format your response in clear sections with headers. Be specific and reference actual patterns from the data.`

// domainFromURL returns the hostname without a "www." prefix, or a generic
// label when the URL cannot be parsed.
func domainFromURL(raw string) string {
	if raw == "" {
		return "the website"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "the website"
	}
	return strings.Replace(u.Hostname(), "www.", "", 1)
}

func marshalData(data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func recentEventsDigest(events []models.UserEvent) string {
	if len(events) > recentEventWindow {
		events = events[len(events)-recentEventWindow:]
	}
	if len(events) == 0 {
		return "No recent user actions."
	}
	var b strings.Builder
	b.WriteString("Recent user actions:")
	for _, ev := range events {
		fmt.Fprintf(&b, "\n- %s: %s", ev.Type, marshalData(ev.Data))
	}
	return b.String()
}

func describeLatest(events []models.UserEvent) string {
	if len(events) == 0 {
		return "The user is exploring the website."
	}
	latest := events[len(events)-1]
	if latest.Data == nil {
		return fmt.Sprintf("The user just performed a %s action.", latest.Type)
	}
	return fmt.Sprintf("The user just performed a %s action: %s.", latest.Type, marshalData(latest.Data))
}

func roleForSpeaker(speaker string) string {
	if speaker == models.SpeakerUser {
		return models.RoleUser
	}
	return models.RoleAssistant
}

// BuildChatMessages assembles the provider conversation for one chat turn:
// the system prompt, the transcript mapped to roles and a trailing user
// message describing what just happened.
func BuildChatMessages(req models.ChatRequest) []models.ChatMessage {
	domain := domainFromURL(req.TestURL)
	digest := recentEventsDigest(req.UserEvents)

	system := fmt.Sprintf(chatSystemTemplate, domain, digest)

	walkthrough := req.WalkthroughContext
	if walkthrough == "" && req.TestURL != "" {
		walkthrough = democonfig.WalkthroughContext(req.TestURL)
	}
	if walkthrough != "" {
		system += "\n\nSite-specific context to reference:\n" + walkthrough
	}
	if req.Context != "" {
		system += "\n\nAdditional context: " + req.Context
	}

	contextMsg := fmt.Sprintf(chatContextTemplate, domain, describeLatest(req.UserEvents), digest, domain)
	if walkthrough != "" {
		contextMsg += "\n\nReference walkthrough details:\n" + walkthrough
	}

	msgs := make([]models.ChatMessage, 0, len(req.Messages)+2)
	msgs = append(msgs, models.ChatMessage{Role: models.RoleSystem, Content: system})
	for _, turn := range req.Messages {
		content := turn.Text
		if content == "" {
			content = turn.Content
		}
		if content == "" {
			continue
		}
		msgs = append(msgs, models.ChatMessage{Role: roleForSpeaker(turn.Speaker), Content: content})
	}
	msgs = append(msgs, models.ChatMessage{Role: models.RoleUser, Content: contextMsg})
	return msgs
}

func speakerLabel(speaker string) string {
	if speaker == models.SpeakerUser {
		return "User"
	}
	return "Ava"
}

func questionLabel(id string) string {
	if text := survey.QuestionText(id); text != id {
		return text
	}
	return "Question " + id
}

// sortedQuestionIDs orders survey keys numerically where possible.
func sortedQuestionIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// BuildSessionSummaryPrompt returns the system and user prompts for a
// single-session analysis.
func BuildSessionSummaryPrompt(req models.SummaryRequest) (system, user string) {
	var actions []string
	n := 0
	for _, ev := range req.UserEvents {
		if !ev.Qualifies() {
			continue
		}
		n++
		secs := int64(math.Round(float64(ev.ElapsedTime) / 1000))
		line := fmt.Sprintf("%d. [%ds] %s", n, secs, ev.Type)
		if ev.Data != nil {
			line += ": " + marshalData(ev.Data)
		}
		actions = append(actions, line)
	}

	var convo []string
	for i, msg := range req.ConversationHistory {
		convo = append(convo, fmt.Sprintf("%d. %s: %s", i+1, speakerLabel(msg.Speaker), msg.Text))
	}

	var answers []string
	for _, id := range sortedQuestionIDs(req.SurveyAnswers) {
		answers = append(answers, fmt.Sprintf("- %s: %d/5", questionLabel(id), req.SurveyAnswers[id]))
	}

	user = fmt.Sprintf(summaryUserTemplate,
		domainFromURL(req.TestURL),
		orDefault(strings.Join(actions, "\n"), "No user actions recorded."),
		orDefault(strings.Join(convo, "\n"), "No conversation recorded."),
		orDefault(strings.Join(answers, "\n"), "No survey responses."),
	)
	return summarySystemPrompt, user
}

// CrossSessionInput is the aggregate fed to the cross-session prompt.
type CrossSessionInput struct {
	Sessions      []models.TestSession
	EventTypes    map[string]int
	EventOrder    []string
	Conversations []models.ConversationMessage
	Ratings       map[string][]int
	TestURLs      []string
	TotalEvents   int
}

// AggregateSessions folds the selected sessions into counts and rating lists.
func AggregateSessions(sessions []models.TestSession) CrossSessionInput {
	in := CrossSessionInput{
		Sessions:   sessions,
		EventTypes: map[string]int{},
		Ratings:    map[string][]int{},
	}
	seenURL := map[string]bool{}
	for _, s := range sessions {
		if !seenURL[s.TestURL] {
			seenURL[s.TestURL] = true
			in.TestURLs = append(in.TestURLs, s.TestURL)
		}
		in.TotalEvents += len(s.UserEvents)
		for _, ev := range s.UserEvents {
			if ev.Type == "" {
				continue
			}
			if _, ok := in.EventTypes[ev.Type]; !ok {
				in.EventOrder = append(in.EventOrder, ev.Type)
			}
			in.EventTypes[ev.Type]++
		}
		in.Conversations = append(in.Conversations, s.ConversationHistory...)
		for _, id := range sortedQuestionIDs(s.SurveyAnswers) {
			in.Ratings[id] = append(in.Ratings[id], s.SurveyAnswers[id])
		}
	}
	return in
}

func (in CrossSessionInput) Aggregated() models.AggregatedData {
	return models.AggregatedData{
		TotalEvents:        in.TotalEvents,
		TotalConversations: len(in.Conversations),
		SurveyResponses:    len(in.Ratings),
	}
}

// BuildCrossSessionPrompt renders the aggregate as a single user prompt.
func BuildCrossSessionPrompt(in CrossSessionInput) string {
	var actions []string
	for _, t := range in.EventOrder {
		actions = append(actions, fmt.Sprintf("- %s: %d occurrence(s)", t, in.EventTypes[t]))
	}

	shown := in.Conversations
	if len(shown) > crossSessionMessageLimit {
		shown = shown[:crossSessionMessageLimit]
	}
	var convo []string
	for i, msg := range shown {
		convo = append(convo, fmt.Sprintf("%d. %s: %s", i+1, speakerLabel(msg.Speaker), msg.Text))
	}

	var answers []string
	for _, id := range sortedQuestionIDs(in.Ratings) {
		ratings := in.Ratings[id]
		sum := 0
		for _, r := range ratings {
			sum += r
		}
		avg := float64(sum) / float64(len(ratings))
		answers = append(answers, fmt.Sprintf("- %s: Average %.1f/5 (%d responses)", questionLabel(id), avg, len(ratings)))
	}

	var summaries []string
	for i, s := range in.Sessions {
		text := "No summary available"
		if s.Summary != nil && *s.Summary != "" {
			text = *s.Summary
		}
		summaries = append(summaries, fmt.Sprintf("%d. Session %d (%s): %s", i+1, i+1, s.TestURL, text))
	}

	return fmt.Sprintf(crossSessionTemplate,
		len(in.Sessions), strings.Join(in.TestURLs, ", "),
		in.TotalEvents, orDefault(strings.Join(actions, "\n"), "No user actions recorded."),
		len(in.Conversations), crossSessionMessageLimit, orDefault(strings.Join(convo, "\n"), "No conversation recorded."),
		len(in.Ratings), orDefault(strings.Join(answers, "\n"), "No survey responses."),
		strings.Join(summaries, "\n\n"),
	)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
