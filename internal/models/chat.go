package models

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn as sent to a chat-completion provider.
type ChatMessage struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// ChatTurn is a transcript turn as submitted by clients. Content is accepted
// as an alias of Text.
type ChatTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Content string `json:"content,omitempty"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Messages           []ChatTurn  `json:"messages"`
	UserEvents         []UserEvent `json:"userEvents"`
	TestURL            string      `json:"testUrl"`
	WalkthroughContext string      `json:"walkthroughContext,omitempty"`
	Context            string      `json:"context,omitempty"`
}

// ChatResponse is the assistant reply.
type ChatResponse struct {
	Text string `json:"text"`
}

// TurnsFromConversation converts a stored transcript to chat turns.
func TurnsFromConversation(msgs []ConversationMessage) []ChatTurn {
	turns := make([]ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, ChatTurn{Speaker: m.Speaker, Text: m.Text})
	}
	return turns
}
