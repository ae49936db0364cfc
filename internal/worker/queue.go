package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ava-backend/internal/models"
)

// RedisQueue is the subset of the redis client the queue and pool use.
type RedisQueue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
	Complete(ctx context.Context, id, resultID uuid.UUID) error
}

func jobQueueName(jobType string) string {
	return "queue:" + jobType
}

// Queue records finalisation jobs and hands them to the worker pool.
type Queue struct {
	redis RedisQueue
	jobs  JobStore
}

func NewQueue(redisClient RedisQueue, jobs JobStore) *Queue {
	return &Queue{redis: redisClient, jobs: jobs}
}

func (q *Queue) EnqueueFinalize(ctx context.Context, liveID uuid.UUID, payload models.FinalizePayload) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	job := &models.Job{
		Type:    models.JobTypeSessionFinalize,
		LiveID:  liveID,
		Payload: data,
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	if err := q.redis.LPush(ctx, jobQueueName(job.Type), string(jobBytes)).Err(); err != nil {
		q.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
		return nil, fmt.Errorf("push job: %w", err)
	}
	return job, nil
}
