package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ava-backend/internal/models"
)

const sessionColumns = `id, project_id, test_url, user_events, conversation_history, survey_answers,
	summary, sentiment_score, session_duration, created_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// Create writes a finished session. When the session belongs to a project the
// project link is recorded as well, replacing any earlier sentiment score.
// Writing an id that is already stored returns ErrDuplicate.
func (r *SessionRepo) Create(ctx context.Context, s *models.TestSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.UserEvents == nil {
		s.UserEvents = []models.UserEvent{}
	}
	if s.ConversationHistory == nil {
		s.ConversationHistory = []models.ConversationMessage{}
	}
	if s.SurveyAnswers == nil {
		s.SurveyAnswers = map[string]int{}
	}

	events, err := json.Marshal(s.UserEvents)
	if err != nil {
		return fmt.Errorf("encode user events: %w", err)
	}
	conversation, err := json.Marshal(s.ConversationHistory)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	answers, err := json.Marshal(s.SurveyAnswers)
	if err != nil {
		return fmt.Errorf("encode survey answers: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO test_sessions (id, project_id, test_url, user_events, conversation_history,
			survey_answers, summary, sentiment_score, session_duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`

	err = tx.QueryRow(ctx, query,
		s.ID, s.ProjectID, s.TestURL, events, conversation, answers,
		s.Summary, s.SentimentScore, s.SessionDuration,
	).Scan(&s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if s.ProjectID != nil {
		_, err = tx.Exec(ctx, `INSERT INTO project_sessions (project_id, session_id, sentiment_score)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, session_id) DO UPDATE SET sentiment_score = EXCLUDED.sentiment_score`,
			*s.ProjectID, s.ID, s.SentimentScore,
		)
		if err != nil {
			return fmt.Errorf("link session to project: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func scanSessions(rows pgx.Rows) ([]*models.TestSession, error) {
	defer rows.Close()

	sessions := []*models.TestSession{}
	for rows.Next() {
		s := &models.TestSession{}
		err := rows.Scan(
			&s.ID, &s.ProjectID, &s.TestURL, &s.UserEvents, &s.ConversationHistory, &s.SurveyAnswers,
			&s.Summary, &s.SentimentScore, &s.SessionDuration, &s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListAll returns every stored session, newest first.
func (r *SessionRepo) ListAll(ctx context.Context) ([]*models.TestSession, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+sessionColumns+" FROM test_sessions ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func (r *SessionRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.TestSession, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM test_sessions WHERE project_id = $1 ORDER BY created_at DESC",
		projectID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// GetByIDs returns the sessions among ids that exist. Unknown ids are
// skipped silently.
func (r *SessionRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.TestSession, error) {
	if len(ids) == 0 {
		return []*models.TestSession{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := r.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM test_sessions WHERE id = ANY($1::uuid[]) ORDER BY created_at ASC",
		keys)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}
