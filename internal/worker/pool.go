package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ava-backend/internal/models"
	"ava-backend/internal/repository"
	"ava-backend/internal/services"
)

const (
	popTimeout  = 30 * time.Second
	lockTTL     = 10 * time.Minute
	jobTimeout  = 3 * time.Minute
	maxAttempts = 3
)

type SessionStore interface {
	Create(ctx context.Context, s *models.TestSession) error
}

// Summarizer writes the analysis stored with a finished session.
type Summarizer interface {
	Summarize(ctx context.Context, req models.SummaryRequest) (string, error)
}

type Pool struct {
	redis       RedisQueue
	jobs        JobStore
	sessions    SessionStore
	summarizer  Summarizer
	updates     services.UpdatePublisher
	workerCount int
	logger      zerolog.Logger

	// requeue schedules a retry; replaced in tests.
	requeue func(job *models.Job, delay time.Duration)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds the finalisation workers. summarizer may be nil, in which
// case sessions are stored without an analysis.
func NewPool(
	redisClient RedisQueue,
	jobs JobStore,
	sessions SessionStore,
	summarizer Summarizer,
	updates services.UpdatePublisher,
	workerCount int,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		redis:       redisClient,
		jobs:        jobs,
		sessions:    sessions,
		summarizer:  summarizer,
		updates:     updates,
		workerCount: workerCount,
		logger:      log.With().Str("component", "worker").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
	p.requeue = p.pushLater
	return p
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info().Int("workers", p.workerCount).Msg("started worker goroutines")
}

// Stop interrupts idle workers and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Logger()
	queue := jobQueueName(models.JobTypeSessionFinalize)

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug().Msg("worker shutting down")
			return
		default:
		}

		result, err := p.redis.BLPop(p.ctx, popTimeout, queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && p.ctx.Err() == nil {
				logger.Warn().Err(err).Msg("queue pop failed")
				select {
				case <-p.ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			logger.Error().Err(err).Msg("failed to parse job")
			continue
		}
		p.runJob(&job)
	}
}

func (p *Pool) runJob(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
	locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
	if err != nil || !locked {
		return
	}
	defer p.redis.Del(ctx, lockKey)

	logger := p.logger.With().Str("job_id", job.ID.String()).Str("live_id", job.LiveID.String()).Logger()
	logger.Info().Str("type", job.Type).Int("attempt", job.RetryCount+1).Msg("processing job")

	if err := p.jobs.UpdateStatus(ctx, job.ID, models.JobProcessing); err != nil {
		logger.Warn().Err(err).Msg("failed to mark job processing")
	}

	var (
		sessionID  uuid.UUID
		processErr error
	)
	switch job.Type {
	case models.JobTypeSessionFinalize:
		sessionID, processErr = p.finalize(ctx, job, logger)
	default:
		processErr = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if processErr != nil {
		p.handleFailure(ctx, job, processErr)
		return
	}
	p.handleSuccess(ctx, job, sessionID)
}

// finalize stores the session snapshot carried by the job. The stored
// session takes the live session's id, so a retried job never stores twice.
func (p *Pool) finalize(ctx context.Context, job *models.Job, logger zerolog.Logger) (uuid.UUID, error) {
	var payload models.FinalizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode payload: %w", err)
	}

	session := &models.TestSession{
		ID:                  job.LiveID,
		ProjectID:           payload.ProjectID,
		TestURL:             payload.TestURL,
		UserEvents:          payload.UserEvents,
		ConversationHistory: payload.ConversationHistory,
		SurveyAnswers:       payload.SurveyAnswers,
		SessionDuration:     models.SessionDuration(payload.StartedAt, payload.EndedAt),
	}
	if summary := p.summarize(ctx, payload, logger); summary != "" {
		session.Summary = &summary
	}

	err := p.sessions.Create(ctx, session)
	if errors.Is(err, repository.ErrDuplicate) {
		logger.Info().Msg("session already stored")
		return session.ID, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("store session: %w", err)
	}
	return session.ID, nil
}

func (p *Pool) summarize(ctx context.Context, payload models.FinalizePayload, logger zerolog.Logger) string {
	if p.summarizer == nil {
		return ""
	}
	summary, err := p.summarizer.Summarize(ctx, models.SummaryRequest{
		UserEvents:          payload.UserEvents,
		ConversationHistory: payload.ConversationHistory,
		SurveyAnswers:       payload.SurveyAnswers,
		TestURL:             payload.TestURL,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("summary failed, storing session without it")
		return ""
	}
	return summary
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, sessionID uuid.UUID) {
	if err := p.jobs.Complete(ctx, job.ID, sessionID); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job completed")
	}

	p.publish(ctx, job.LiveID, models.WSMessage{
		Type: models.WSSessionSave,
		Payload: models.SessionSaved{
			JobID:     job.ID,
			SessionID: sessionID,
		},
	})

	p.logger.Info().Str("job_id", job.ID.String()).Str("session_id", sessionID.String()).Msg("job completed")
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()
	logger := p.logger.With().Str("job_id", job.ID.String()).Int("attempt", job.RetryCount).Logger()

	if job.RetryCount < maxAttempts {
		logger.Warn().Err(err).Msg("job failed, retrying")
		p.jobs.UpdateStatus(ctx, job.ID, models.JobPending)
		p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		p.requeue(job, backoff)
		return
	}

	logger.Error().Err(err).Msg("job failed permanently")
	p.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
	p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

	p.publish(ctx, job.LiveID, models.WSMessage{
		Type: models.WSError,
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    "JOB_FAILED",
			ErrorMessage: errMsg,
		},
	})
}

func (p *Pool) pushLater(job *models.Job, delay time.Duration) {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to encode job for retry")
		return
	}
	time.AfterFunc(delay, func() {
		if err := p.redis.LPush(context.Background(), jobQueueName(job.Type), string(jobBytes)).Err(); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to requeue job")
		}
	})
}

func (p *Pool) publish(ctx context.Context, liveID uuid.UUID, msg models.WSMessage) {
	if p.updates == nil {
		return
	}
	if err := p.updates.PublishUpdate(ctx, liveID, msg); err != nil {
		p.logger.Warn().Err(err).Str("live_id", liveID.String()).Str("type", msg.Type).Msg("failed to publish update")
	}
}
