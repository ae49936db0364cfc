package services

import (
	"sort"
	"strconv"

	"ava-backend/internal/models"
)

const latestSessionCount = 5

// ComputeProjectMetrics aggregates the sessions of one project.
func ComputeProjectMetrics(sessions []models.TestSession) models.ProjectMetrics {
	ordered := make([]models.TestSession, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	m := models.ProjectMetrics{
		TotalSessions:      len(ordered),
		RatingDistribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0},
		QuestionAverages:   []models.QuestionAverage{},
		LatestSessions:     []models.SessionDigest{},
	}

	type stats struct{ total, responses int }
	byQuestion := map[string]*stats{}
	var questionOrder []string

	totalDuration := 0
	sentimentSum := 0.0
	sentimentCount := 0
	for _, s := range ordered {
		if s.SessionDuration != nil {
			totalDuration += *s.SessionDuration
		}
		if s.SentimentScore != nil {
			sentimentSum += *s.SentimentScore
			sentimentCount++
		}
		for _, id := range sortedQuestionIDs(s.SurveyAnswers) {
			rating := s.SurveyAnswers[id]
			m.RatingDistribution[strconv.Itoa(rating)]++
			st, ok := byQuestion[id]
			if !ok {
				st = &stats{}
				byQuestion[id] = st
				questionOrder = append(questionOrder, id)
			}
			st.total += rating
			st.responses++
		}
	}

	if m.TotalSessions > 0 {
		m.AverageDuration = float64(totalDuration) / float64(m.TotalSessions)
	}
	if sentimentCount == 0 {
		sentimentCount = 1
	}
	m.AverageSentiment = sentimentSum / float64(sentimentCount)

	for _, id := range questionOrder {
		st := byQuestion[id]
		m.QuestionAverages = append(m.QuestionAverages, models.QuestionAverage{
			QuestionID: id,
			Average:    float64(st.total) / float64(st.responses),
			Responses:  st.responses,
		})
	}

	for i, s := range ordered {
		if i == latestSessionCount {
			break
		}
		m.LatestSessions = append(m.LatestSessions, models.SessionDigest{
			ID:              s.ID,
			Summary:         s.Summary,
			SentimentScore:  s.SentimentScore,
			CreatedAt:       s.CreatedAt,
			SessionDuration: s.SessionDuration,
		})
	}
	return m
}
