package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ava-backend/internal/clock"
	"ava-backend/internal/models"
	"ava-backend/internal/survey"
)

type stubTokens struct{}

func (stubTokens) Issue(id uuid.UUID) (string, error) { return "token-" + id.String(), nil }

type recordingQueue struct {
	mu       sync.Mutex
	payloads []models.FinalizePayload
	err      error
}

func (q *recordingQueue) EnqueueFinalize(_ context.Context, liveID uuid.UUID, p models.FinalizePayload) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, p)
	return &models.Job{ID: uuid.New(), LiveID: liveID, Type: models.JobTypeSessionFinalize}, nil
}

type recordingUpdates struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (u *recordingUpdates) PublishUpdate(_ context.Context, _ uuid.UUID, msg models.WSMessage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.msgs = append(u.msgs, msg)
	return nil
}

func (u *recordingUpdates) count(kind string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, m := range u.msgs {
		if m.Type == kind {
			n++
		}
	}
	return n
}

type stubProjects struct {
	project *models.ProjectWithSections
}

func (p stubProjects) Get(context.Context, uuid.UUID) (*models.ProjectWithSections, error) {
	if p.project == nil {
		return nil, errors.New("not found")
	}
	return p.project, nil
}

func newTestLive(clk clock.Clock, queue FinalizeQueue, updates UpdatePublisher) *LiveSessions {
	return NewLiveSessions(LiveConfig{
		PublicBaseURL: "http://localhost:8080",
		Clock:         clk,
		Tokens:        stubTokens{},
		Queue:         queue,
		Updates:       updates,
	})
}

func clientMsg(t *testing.T, kind string, data interface{}) models.ClientMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return models.ClientMessage{Type: kind, Data: raw}
}

var liveStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNormalizeTestURL(t *testing.T) {
	got, err := NormalizeTestURL("  example.com/shop ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/shop", got)

	_, err = NormalizeTestURL("")
	assert.ErrorIs(t, err, ErrInvalidTestURL)
}

func TestLiveStart(t *testing.T) {
	live := newTestLive(clock.NewFake(liveStart), &recordingQueue{}, &recordingUpdates{})
	t.Cleanup(live.Shutdown)

	resp, err := live.Start(context.Background(), models.StartLiveRequest{TestURL: "scoot-tweak-89829545.figma.site"})
	require.NoError(t, err)

	assert.Equal(t, "token-"+resp.SessionID.String(), resp.Token)
	assert.Equal(t, "https://scoot-tweak-89829545.figma.site", resp.FrameSrc)
	assert.Contains(t, resp.IntroScript, "I'm Ava")
	assert.Contains(t, resp.WalkthroughContext, "ChatGPT Trends")
	assert.Equal(t, liveStart.UnixMilli(), resp.StartedAt)
	assert.True(t, live.Exists(resp.SessionID))
}

func TestLiveStart_ProjectContextWins(t *testing.T) {
	intro := "Welcome to the checkout study."
	walkthrough := "Checkout has three steps."
	prototype := "https://proto.example.com"
	projectID := uuid.New()

	live := NewLiveSessions(LiveConfig{
		Clock:    clock.NewFake(liveStart),
		Tokens:   stubTokens{},
		Queue:    &recordingQueue{},
		Projects: stubProjects{project: &models.ProjectWithSections{Project: &models.Project{ID: projectID, IntroScript: &intro, WalkthroughContext: &walkthrough, PrototypeURL: &prototype}}},
	})
	t.Cleanup(live.Shutdown)

	resp, err := live.Start(context.Background(), models.StartLiveRequest{ProjectID: &projectID})
	require.NoError(t, err)
	assert.Equal(t, prototype, resp.FrameSrc)
	assert.Equal(t, intro, resp.IntroScript)
	assert.Equal(t, walkthrough, resp.WalkthroughContext)

	_, err = NewLiveSessions(LiveConfig{Tokens: stubTokens{}, Projects: stubProjects{}}).
		Start(context.Background(), models.StartLiveRequest{TestURL: "https://example.com", ProjectID: &projectID})
	assert.Error(t, err)
}

func TestLiveHandle_EventsDriveQuestions(t *testing.T) {
	clk := clock.NewFake(liveStart)
	updates := &recordingUpdates{}
	live := newTestLive(clk, &recordingQueue{}, updates)
	t.Cleanup(live.Shutdown)

	resp, err := live.Start(context.Background(), models.StartLiveRequest{TestURL: "https://example.com"})
	require.NoError(t, err)
	id := resp.SessionID

	clk.Advance(time.Second)
	_, err = live.Handle(context.Background(), id, clientMsg(t, ClientBridge, map[string]interface{}{
		"type": "click",
		"data": map[string]interface{}{"tag": "button", "text": "Buy"},
	}))
	require.NoError(t, err)

	events, err := live.Events(id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "click", events[0].Type)
	assert.Equal(t, int64(1000), events[0].ElapsedTime)

	clk.Advance(4 * time.Second)

	require.Eventually(t, func() bool {
		events, _ := live.Events(id)
		return len(events) == 2 && events[1].Type == models.EventQuestionAsked
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return updates.count(models.WSSpeak) == 1 }, time.Second, 5*time.Millisecond)
	state, err := live.State(id)
	require.NoError(t, err)
	assert.Equal(t, "speaking", state.State)
	assert.Positive(t, updates.count(models.WSFrame))
}

func TestLiveHandle_Mute(t *testing.T) {
	live := newTestLive(clock.NewFake(liveStart), &recordingQueue{}, nil)
	t.Cleanup(live.Shutdown)
	resp, err := live.Start(context.Background(), models.StartLiveRequest{TestURL: "https://example.com"})
	require.NoError(t, err)

	_, err = live.Handle(context.Background(), resp.SessionID, clientMsg(t, ClientMute, map[string]bool{"muted": true}))
	require.NoError(t, err)

	state, _ := live.State(resp.SessionID)
	assert.True(t, state.Muted)
	assert.Equal(t, "idle", state.State)
}

func TestLiveHandle_InvalidMessages(t *testing.T) {
	live := newTestLive(clock.NewFake(liveStart), &recordingQueue{}, nil)
	t.Cleanup(live.Shutdown)
	resp, err := live.Start(context.Background(), models.StartLiveRequest{TestURL: "https://example.com"})
	require.NoError(t, err)

	_, err = live.Handle(context.Background(), resp.SessionID, models.ClientMessage{Type: "teleport"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = live.Handle(context.Background(), resp.SessionID, models.ClientMessage{Type: ClientMute, Data: json.RawMessage(`{"muted":"yes"}`)})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = live.Handle(context.Background(), uuid.New(), models.ClientMessage{Type: ClientFrameLoad})
	assert.ErrorIs(t, err, ErrLiveSessionNotFound)
}

func TestLiveEnd(t *testing.T) {
	clk := clock.NewFake(liveStart)
	queue := &recordingQueue{}
	live := newTestLive(clk, queue, nil)
	t.Cleanup(live.Shutdown)

	resp, err := live.Start(context.Background(), models.StartLiveRequest{TestURL: "https://example.com"})
	require.NoError(t, err)
	id := resp.SessionID

	_, err = live.Handle(context.Background(), id, clientMsg(t, ClientFrameLoad, map[string]string{}))
	require.NoError(t, err)
	clk.Advance(90 * time.Second)

	_, err = live.End(context.Background(), id, map[string]int{"1": 9})
	assert.ErrorIs(t, err, survey.ErrRatingOutOfRange)
	assert.True(t, live.Exists(id))

	job, err := live.Handle(context.Background(), id, clientMsg(t, ClientEndSession, models.EndLiveRequest{
		SurveyAnswers: map[string]int{"1": 5, "2": 4, "3": 3, "4": 2, "5": 1},
	}))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.LiveID)
	assert.False(t, live.Exists(id))

	require.Len(t, queue.payloads, 1)
	p := queue.payloads[0]
	assert.Equal(t, "https://example.com", p.TestURL)
	assert.Equal(t, liveStart.UnixMilli(), p.StartedAt)
	assert.Equal(t, liveStart.Add(90*time.Second).UnixMilli(), p.EndedAt)
	require.NotEmpty(t, p.UserEvents)
	assert.Equal(t, models.EventPageLoad, p.UserEvents[0].Type)
	assert.Len(t, p.SurveyAnswers, 5)

	_, err = live.End(context.Background(), id, nil)
	assert.ErrorIs(t, err, ErrLiveSessionNotFound)
}

func TestLiveEnd_QueueFailureKeepsSession(t *testing.T) {
	live := newTestLive(clock.NewFake(liveStart), &recordingQueue{err: errors.New("redis down")}, nil)
	t.Cleanup(live.Shutdown)
	resp, err := live.Start(context.Background(), models.StartLiveRequest{TestURL: "https://example.com"})
	require.NoError(t, err)

	_, err = live.End(context.Background(), resp.SessionID, nil)
	assert.Error(t, err)
	assert.True(t, live.Exists(resp.SessionID))
}
