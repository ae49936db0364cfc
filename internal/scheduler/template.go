package scheduler

import (
	"context"
	"sync"

	"ava-backend/internal/models"
)

// MaxTemplateQuestions caps how many questions the template questioner asks
// in one session.
const MaxTemplateQuestions = 10

var questionTemplates = map[string][]string{
	models.EventRouteChange: {
		"What were you expecting to see when you navigated here?",
		"Does this page match what you were looking for?",
		"What do you think you can do on this page?",
	},
	models.EventClick: {
		"What did you expect would happen when you clicked that?",
		"Was that button where you expected to find it?",
		"What are you trying to accomplish here?",
	},
	models.EventInputFocus: {
		"What information are you looking to enter here?",
		"Is this field clear about what it's asking for?",
	},
	models.EventPageLoad: {
		"What's your first impression of this page?",
		"What would you like to do first?",
	},
	models.EventInactivity: {
		"What are you thinking about right now?",
		"Is there something unclear on this page?",
	},
}

var replyTemplates = []string{
	"Thanks, that's helpful. What would you expect to happen next?",
	"Got it. Is there anything else on this page that stands out to you?",
}

// TemplateQuestioner answers from fixed per-event-type templates. It serves
// sessions that run without a chat-completion provider. The rotation index is
// per instance so sessions never share it.
type TemplateQuestioner struct {
	mu    sync.Mutex
	index int
}

func NewTemplateQuestioner() *TemplateQuestioner {
	return &TemplateQuestioner{}
}

func (q *TemplateQuestioner) Respond(_ context.Context, p Prompt) (string, error) {
	if p.QuestionsAsked >= MaxTemplateQuestions {
		return "", nil
	}

	templates := replyTemplates
	if p.Latest != nil {
		var ok bool
		templates, ok = questionTemplates[p.Latest.Type]
		if !ok {
			templates = questionTemplates[models.EventClick]
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	question := templates[q.index%len(templates)]
	q.index++
	return question, nil
}
