package models

import "time"

// Event types captured from the tested site or synthesised by the host.
const (
	EventPageLoad      = "page_load"
	EventRouteChange   = "route_change"
	EventClick         = "click"
	EventInputFocus    = "input_focus"
	EventInactivity    = "inactivity"
	EventQuestionAsked = "question_asked"
)

// DevToolsSource marks messages emitted by browser debugging extensions.
const DevToolsSource = "react-devtools-bridge"

// UserEvent is one observed interaction. Timestamp and ElapsedTime are
// milliseconds; ElapsedTime is measured from the session start.
type UserEvent struct {
	Type        string         `json:"type"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	ElapsedTime int64          `json:"elapsedTime"`
	Source      string         `json:"source,omitempty"`
}

// Qualifies reports whether the event may trigger a new question.
func (e *UserEvent) Qualifies() bool {
	if e == nil || e.Type == "" {
		return false
	}
	if e.Source == DevToolsSource {
		return false
	}
	return e.Type != EventQuestionAsked
}

const (
	SpeakerAI   = "ai"
	SpeakerUser = "user"
)

type ConversationMessage struct {
	Speaker   string `json:"speaker"` // "ai" | "user"
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
