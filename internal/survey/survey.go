// Package survey implements the five-question rating survey a participant
// answers after a test.
package survey

import (
	"errors"
	"fmt"
	"sync"

	"ava-backend/internal/models"
)

const (
	MinRating = 1
	MaxRating = 5
)

var questions = []models.SurveyQuestion{
	{ID: "1", Text: "How likely are you to recommend this website to a friend?"},
	{ID: "2", Text: "How easy was it to find what you were looking for?"},
	{ID: "3", Text: "How likely are you to return to this website?"},
	{ID: "4", Text: "How satisfied were you with the overall experience?"},
	{ID: "5", Text: "How likely are you to complete a purchase or sign up?"},
}

var (
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
	ErrUnknownQuestion  = errors.New("unknown survey question")
	ErrFinished         = errors.New("survey already completed")
)

// Questions returns the survey questions in the order they are asked.
func Questions() []models.SurveyQuestion {
	out := make([]models.SurveyQuestion, len(questions))
	copy(out, questions)
	return out
}

// QuestionText returns the text for a question id, or the id itself when unknown.
func QuestionText(id string) string {
	for _, q := range questions {
		if q.ID == id {
			return q.Text
		}
	}
	return id
}

// Validate checks submitted answers. A partial set is valid; every key must
// name a known question and every rating must be in range.
func Validate(answers map[string]int) error {
	for id, rating := range answers {
		if QuestionText(id) == id {
			return fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
		}
		if rating < MinRating || rating > MaxRating {
			return fmt.Errorf("question %s: %w", id, ErrRatingOutOfRange)
		}
	}
	return nil
}

// Progress walks the questions one at a time.
type Progress struct {
	mu         sync.Mutex
	index      int
	answers    map[string]int
	onComplete func(map[string]int)
	done       bool
}

// Run starts a survey. onComplete is called exactly once, after the last
// rating, with one answer per question.
func Run(onComplete func(map[string]int)) *Progress {
	return &Progress{answers: make(map[string]int, len(questions)), onComplete: onComplete}
}

// Current returns the question awaiting a rating and its 1-based position.
func (p *Progress) Current() (models.SurveyQuestion, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return models.SurveyQuestion{}, 0, false
	}
	return questions[p.index], p.index + 1, true
}

// Rate records the rating for the current question and advances.
func (p *Progress) Rate(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return ErrRatingOutOfRange
	}

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return ErrFinished
	}
	p.answers[questions[p.index].ID] = rating
	p.index++
	if p.index < len(questions) {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	answers := make(map[string]int, len(p.answers))
	for k, v := range p.answers {
		answers[k] = v
	}
	p.mu.Unlock()

	if p.onComplete != nil {
		p.onComplete(answers)
	}
	return nil
}
