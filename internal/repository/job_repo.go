package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ava-backend/internal/models"
)

const jobColumns = `id, type, live_id, payload, status, retry_count, max_retries, result_id,
	error_message, created_at, completed_at`

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = models.JobPending
	j.RetryCount = 0
	j.MaxRetries = 3

	payload := []byte(j.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `INSERT INTO jobs (id, type, live_id, payload, status, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		j.ID, j.Type, j.LiveID, payload, j.Status, j.RetryCount, j.MaxRetries,
	).Scan(&j.CreatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	var payload []byte
	err := r.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id).Scan(
		&j.ID, &j.Type, &j.LiveID, &payload, &j.Status, &j.RetryCount, &j.MaxRetries,
		&j.ResultID, &j.ErrorMessage, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := "UPDATE jobs SET status = $1 WHERE id = $2"
	if status == models.JobCompleted || status == models.JobFailed {
		query = "UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3"
		_, err := r.pool.Exec(ctx, query, status, time.Now(), id)
		return err
	}
	_, err := r.pool.Exec(ctx, query, status, id)
	return err
}

func (r *JobRepo) UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE jobs SET error_message = $1, retry_count = $2 WHERE id = $3",
		errMsg, retryCount, id,
	)
	return err
}

// Complete marks the job done and records the stored session it produced.
func (r *JobRepo) Complete(ctx context.Context, id, resultID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE jobs SET status = $1, result_id = $2, completed_at = $3 WHERE id = $4",
		models.JobCompleted, resultID, time.Now(), id,
	)
	return err
}
