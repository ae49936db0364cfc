package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ava-backend/internal/models"
	"ava-backend/internal/repository"
)

type fakeRedis struct {
	mu      sync.Mutex
	lists   map[string][]string
	locks   map[string]bool
	pushErr error
	pushed  chan struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:  map[string][]string{},
		locks:  map[string]bool{},
		pushed: make(chan struct{}, 1),
	}
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	f.mu.Lock()
	for _, v := range values {
		f.lists[key] = append([]string{fmt.Sprint(v)}, f.lists[key]...)
	}
	n := len(f.lists[key])
	f.mu.Unlock()

	select {
	case f.pushed <- struct{}{}:
	default:
	}
	return redis.NewIntResult(int64(n), nil)
}

func (f *fakeRedis) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	deadline := time.After(timeout)
	for {
		f.mu.Lock()
		for _, key := range keys {
			if list := f.lists[key]; len(list) > 0 {
				f.lists[key] = list[1:]
				f.mu.Unlock()
				return redis.NewStringSliceResult([]string{key, list[0]}, nil)
			}
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return redis.NewStringSliceResult(nil, ctx.Err())
		case <-deadline:
			return redis.NewStringSliceResult(nil, redis.Nil)
		case <-f.pushed:
		}
	}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.locks[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.locks, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) list(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[key]...)
}

type memJobs struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	statuses []string
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[uuid.UUID]*models.Job{}}
}

func (m *memJobs) Create(_ context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.ID = uuid.New()
	j.Status = models.JobPending
	j.MaxRetries = maxAttempts
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobs) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	if j, ok := m.jobs[id]; ok {
		j.Status = status
	}
	return nil
}

func (m *memJobs) UpdateError(_ context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.ErrorMessage = &errMsg
		j.RetryCount = retryCount
	}
	return nil
}

func (m *memJobs) Complete(_ context.Context, id, resultID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = models.JobCompleted
		j.ResultID = &resultID
	}
	return nil
}

func (m *memJobs) get(id uuid.UUID) models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type memSessions struct {
	mu     sync.Mutex
	stored []*models.TestSession
	err    error
}

func (m *memSessions) Create(_ context.Context, s *models.TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, s)
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

type stubSummarizer struct {
	text string
	err  error
	got  models.SummaryRequest
}

func (s *stubSummarizer) Summarize(_ context.Context, req models.SummaryRequest) (string, error) {
	s.got = req
	return s.text, s.err
}

type recordedUpdate struct {
	liveID uuid.UUID
	msg    models.WSMessage
}

type recordingUpdates struct {
	mu  sync.Mutex
	got []recordedUpdate
}

func (r *recordingUpdates) PublishUpdate(_ context.Context, liveID uuid.UUID, msg models.WSMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, recordedUpdate{liveID: liveID, msg: msg})
	return nil
}

func (r *recordingUpdates) all() []recordedUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedUpdate(nil), r.got...)
}

type poolFixture struct {
	redis    *fakeRedis
	jobs     *memJobs
	sessions *memSessions
	summary  *stubSummarizer
	updates  *recordingUpdates
	pool     *Pool
	requeued []time.Duration
}

func newFixture(t *testing.T) *poolFixture {
	t.Helper()
	f := &poolFixture{
		redis:    newFakeRedis(),
		jobs:     newMemJobs(),
		sessions: &memSessions{},
		summary:  &stubSummarizer{text: "Participant finished checkout."},
		updates:  &recordingUpdates{},
	}
	f.pool = NewPool(f.redis, f.jobs, f.sessions, f.summary, f.updates, 1)
	f.pool.requeue = func(_ *models.Job, delay time.Duration) {
		f.requeued = append(f.requeued, delay)
	}
	t.Cleanup(f.pool.cancel)
	return f
}

func (f *poolFixture) enqueue(t *testing.T, liveID uuid.UUID, payload models.FinalizePayload) *models.Job {
	t.Helper()
	job, err := NewQueue(f.redis, f.jobs).EnqueueFinalize(context.Background(), liveID, payload)
	require.NoError(t, err)
	return job
}

func samplePayload() models.FinalizePayload {
	return models.FinalizePayload{
		TestURL: "https://shop.example.com",
		UserEvents: []models.UserEvent{
			{Type: models.EventClick, Timestamp: 2000, ElapsedTime: 1000},
		},
		ConversationHistory: []models.ConversationMessage{
			{Speaker: models.SpeakerAI, Text: "What do you expect here?", Timestamp: 2100},
		},
		SurveyAnswers: map[string]int{"1": 5},
		StartedAt:     1000,
		EndedAt:       43400,
	}
}

func TestQueue_EnqueueFinalize(t *testing.T) {
	f := newFixture(t)
	liveID := uuid.New()

	job := f.enqueue(t, liveID, samplePayload())
	assert.Equal(t, models.JobTypeSessionFinalize, job.Type)
	assert.Equal(t, liveID, job.LiveID)

	queued := f.redis.list("queue:session-finalize")
	require.Len(t, queued, 1)

	var pushed models.Job
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &pushed))
	assert.Equal(t, job.ID, pushed.ID)

	var payload models.FinalizePayload
	require.NoError(t, json.Unmarshal(pushed.Payload, &payload))
	assert.Equal(t, "https://shop.example.com", payload.TestURL)
	assert.Equal(t, 5, payload.SurveyAnswers["1"])
}

func TestQueue_PushFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	f.redis.pushErr = errors.New("connection refused")

	_, err := NewQueue(f.redis, f.jobs).EnqueueFinalize(context.Background(), uuid.New(), samplePayload())
	require.Error(t, err)
	assert.Equal(t, []string{models.JobFailed}, f.jobs.statuses)
}

func TestPool_FinalizeStoresSessionOnce(t *testing.T) {
	f := newFixture(t)
	liveID := uuid.New()
	job := f.enqueue(t, liveID, samplePayload())

	f.pool.runJob(job)

	require.Equal(t, 1, f.sessions.count())
	stored := f.sessions.stored[0]
	assert.Equal(t, liveID, stored.ID)
	assert.Equal(t, "https://shop.example.com", stored.TestURL)
	require.NotNil(t, stored.SessionDuration)
	assert.Equal(t, 42, *stored.SessionDuration)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "Participant finished checkout.", *stored.Summary)
	assert.Equal(t, "https://shop.example.com", f.summary.got.TestURL)

	done := f.jobs.get(job.ID)
	assert.Equal(t, models.JobCompleted, done.Status)
	require.NotNil(t, done.ResultID)
	assert.Equal(t, liveID, *done.ResultID)

	updates := f.updates.all()
	require.Len(t, updates, 1)
	assert.Equal(t, liveID, updates[0].liveID)
	assert.Equal(t, models.WSSessionSave, updates[0].msg.Type)
	assert.Equal(t, models.SessionSaved{JobID: job.ID, SessionID: liveID}, updates[0].msg.Payload)
}

func TestPool_SummaryFailureStillStores(t *testing.T) {
	f := newFixture(t)
	f.summary.err = errors.New("upstream 500")
	job := f.enqueue(t, uuid.New(), samplePayload())

	f.pool.runJob(job)

	require.Equal(t, 1, f.sessions.count())
	assert.Nil(t, f.sessions.stored[0].Summary)
	assert.Equal(t, models.JobCompleted, f.jobs.get(job.ID).Status)
}

func TestPool_WithoutSummarizer(t *testing.T) {
	f := newFixture(t)
	f.pool.summarizer = nil
	job := f.enqueue(t, uuid.New(), samplePayload())

	f.pool.runJob(job)

	require.Equal(t, 1, f.sessions.count())
	assert.Nil(t, f.sessions.stored[0].Summary)
}

func TestPool_DuplicateCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = repository.ErrDuplicate
	liveID := uuid.New()
	job := f.enqueue(t, liveID, samplePayload())

	f.pool.runJob(job)

	assert.Equal(t, models.JobCompleted, f.jobs.get(job.ID).Status)
	assert.Empty(t, f.requeued)
}

func TestPool_RetriesThenFails(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = errors.New("database down")
	liveID := uuid.New()
	job := f.enqueue(t, liveID, samplePayload())

	f.pool.runJob(job)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.requeued)
	assert.Equal(t, models.JobPending, f.jobs.get(job.ID).Status)

	f.pool.runJob(job)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.requeued)

	f.pool.runJob(job)
	assert.Len(t, f.requeued, 2, "no retry after the last attempt")
	failed := f.jobs.get(job.ID)
	assert.Equal(t, models.JobFailed, failed.Status)
	assert.Equal(t, 3, failed.RetryCount)

	updates := f.updates.all()
	require.Len(t, updates, 1)
	assert.Equal(t, models.WSError, updates[0].msg.Type)
	errEvent, ok := updates[0].msg.Payload.(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "JOB_FAILED", errEvent.ErrorCode)
	assert.Contains(t, errEvent.ErrorMessage, "database down")
}

func TestPool_SkipsLockedJob(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, uuid.New(), samplePayload())
	f.redis.locks["job_lock:"+job.ID.String()] = true

	f.pool.runJob(job)

	assert.Zero(t, f.sessions.count())
	assert.Equal(t, models.JobPending, f.jobs.get(job.ID).Status)
}

func TestPool_BadPayloadFails(t *testing.T) {
	f := newFixture(t)
	job := &models.Job{ID: uuid.New(), Type: models.JobTypeSessionFinalize, Payload: []byte(`[`), RetryCount: maxAttempts - 1}

	f.pool.runJob(job)

	assert.Zero(t, f.sessions.count())
	updates := f.updates.all()
	require.Len(t, updates, 1)
	assert.Equal(t, models.WSError, updates[0].msg.Type)
}

func TestPool_StartDrainsQueue(t *testing.T) {
	f := newFixture(t)
	f.pool.Start()

	f.enqueue(t, uuid.New(), samplePayload())

	assert.Eventually(t, func() bool { return f.sessions.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		f.pool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}
