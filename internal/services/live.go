package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ava-backend/internal/clock"
	"ava-backend/internal/democonfig"
	"ava-backend/internal/eventlog"
	"ava-backend/internal/frame"
	"ava-backend/internal/models"
	"ava-backend/internal/scheduler"
	"ava-backend/internal/survey"
)

// Client message types accepted on the live websocket.
const (
	ClientBridge           = "bridge"
	ClientFrameLoad        = "frame_load"
	ClientFrameError       = "frame_error"
	ClientFrameAccess      = "frame_access"
	ClientLocation         = "location"
	ClientUseProxy         = "use_proxy"
	ClientUserMessage      = "user_message"
	ClientMute             = "mute"
	ClientPlaybackComplete = "playback_complete"
	ClientEndSession       = "end_session"
)

const updateBuffer = 256

var (
	ErrLiveSessionNotFound = errors.New("live session not found")
	ErrInvalidMessage      = errors.New("invalid client message")
	ErrInvalidTestURL      = errors.New("testUrl is required")
)

// ProjectLookup resolves the project a live session is run for.
type ProjectLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.ProjectWithSections, error)
}

// TokenIssuer signs the participant token bound to a live session.
type TokenIssuer interface {
	Issue(liveID uuid.UUID) (string, error)
}

// FinalizeQueue persists and queues a session-finalize job.
type FinalizeQueue interface {
	EnqueueFinalize(ctx context.Context, liveID uuid.UUID, payload models.FinalizePayload) (*models.Job, error)
}

type LiveConfig struct {
	PublicBaseURL string
	Clock         clock.Clock
	Projects      ProjectLookup
	Tokens        TokenIssuer
	Queue         FinalizeQueue
	Updates       UpdatePublisher
	Voice         scheduler.Voice
	// Chat answers live turns. When nil every session uses its own template
	// questioner.
	Chat *ChatService
}

// LiveSessions owns the in-process runtimes of running participant sessions.
type LiveSessions struct {
	cfg   LiveConfig
	clock clock.Clock

	mu       sync.RWMutex
	sessions map[uuid.UUID]*liveRuntime
}

func NewLiveSessions(cfg LiveConfig) *LiveSessions {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &LiveSessions{
		cfg:      cfg,
		clock:    cfg.Clock,
		sessions: make(map[uuid.UUID]*liveRuntime),
	}
}

type liveRuntime struct {
	id        uuid.UUID
	testURL   string
	projectID *uuid.UUID
	startedAt time.Time
	logger    zerolog.Logger

	events *eventlog.Log
	frame  *frame.Controller
	sched  *scheduler.Scheduler

	updates chan models.WSMessage
	done    chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// Publish queues an outbound update without blocking the caller, which may
// hold a component lock.
func (rt *liveRuntime) Publish(msg models.WSMessage) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return
	}
	select {
	case rt.updates <- msg:
	default:
		rt.logger.Warn().Str("type", msg.Type).Msg("update buffer full, dropping update")
	}
}

func (rt *liveRuntime) Record(ev models.UserEvent) {
	stored := rt.events.Append(ev)
	rt.Publish(models.WSMessage{Type: models.WSEvent, Payload: stored})
	rt.sched.Observe(stored)
}

func (rt *liveRuntime) pump(pub UpdatePublisher) {
	defer close(rt.done)
	for msg := range rt.updates {
		if pub == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pub.PublishUpdate(ctx, rt.id, msg); err != nil {
			rt.logger.Warn().Err(err).Str("type", msg.Type).Msg("failed to publish update")
		}
		cancel()
	}
}

func (rt *liveRuntime) touch(now time.Time) {
	rt.mu.Lock()
	rt.lastSeen = now
	rt.mu.Unlock()
}

func (rt *liveRuntime) idleSince() time.Time {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastSeen
}

func (rt *liveRuntime) close() {
	rt.sched.Close()
	rt.frame.Close()
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	close(rt.updates)
	rt.mu.Unlock()
	<-rt.done
}

// NormalizeTestURL trims the URL and adds https:// when no scheme is given.
func NormalizeTestURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidTestURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not a valid URL", ErrInvalidTestURL, raw)
	}
	return u.String(), nil
}

// Start creates the runtime for a new participant session.
func (m *LiveSessions) Start(ctx context.Context, req models.StartLiveRequest) (*models.StartLiveResponse, error) {
	var project *models.ProjectWithSections
	if req.ProjectID != nil && m.cfg.Projects != nil {
		p, err := m.cfg.Projects.Get(ctx, *req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("load project: %w", err)
		}
		project = p
	}

	rawURL := req.TestURL
	if rawURL == "" && project != nil && project.Project != nil && project.Project.PrototypeURL != nil {
		rawURL = *project.Project.PrototypeURL
	}
	testURL, err := NormalizeTestURL(rawURL)
	if err != nil {
		return nil, err
	}

	var intro, walkthrough string
	if project != nil && project.Project != nil {
		if project.Project.IntroScript != nil {
			intro = *project.Project.IntroScript
		}
		if project.Project.WalkthroughContext != nil {
			walkthrough = *project.Project.WalkthroughContext
		}
	}
	if demo := democonfig.Lookup(testURL); demo != nil {
		if intro == "" {
			intro = demo.IntroScript
		}
		if walkthrough == "" {
			walkthrough = demo.WalkthroughContext
		}
	}

	id := uuid.New()
	token, err := m.cfg.Tokens.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	now := m.clock.Now()
	rt := &liveRuntime{
		id:        id,
		testURL:   testURL,
		projectID: req.ProjectID,
		startedAt: now,
		lastSeen:  now,
		logger:    log.With().Str("live_id", id.String()).Logger(),
		events:    eventlog.New(m.clock, now),
		updates:   make(chan models.WSMessage, updateBuffer),
		done:      make(chan struct{}),
	}

	var responder scheduler.Responder = scheduler.NewTemplateQuestioner()
	if m.cfg.Chat != nil {
		responder = m.cfg.Chat
	}
	rt.sched = scheduler.New(scheduler.Config{
		TestURL:            testURL,
		WalkthroughContext: walkthrough,
		Clock:              m.clock,
		Log:                rt.events,
		Responder:          responder,
		Voice:              m.cfg.Voice,
		Publisher:          rt,
		Logger:             &rt.logger,
	})
	rt.frame = frame.NewController(frame.Config{
		TestURL:   testURL,
		ProxyBase: strings.TrimRight(m.cfg.PublicBaseURL, "/") + "/api/v1/proxy",
		Clock:     m.clock,
		Recorder:  rt,
		Publisher: rt,
		Logger:    &rt.logger,
	})

	go rt.pump(m.cfg.Updates)

	m.mu.Lock()
	m.sessions[id] = rt
	m.mu.Unlock()

	rt.frame.Start()
	rt.logger.Info().Str("test_url", testURL).Msg("live session started")

	return &models.StartLiveResponse{
		SessionID:          id,
		Token:              token,
		IntroScript:        intro,
		WalkthroughContext: walkthrough,
		FrameSrc:           testURL,
		StartedAt:          now.UnixMilli(),
	}, nil
}

func (m *LiveSessions) get(id uuid.UUID) (*liveRuntime, error) {
	m.mu.RLock()
	rt, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrLiveSessionNotFound
	}
	return rt, nil
}

// Exists reports whether id names a running session.
func (m *LiveSessions) Exists(id uuid.UUID) bool {
	_, err := m.get(id)
	return err == nil
}

// Events returns the captured events of a running session.
func (m *LiveSessions) Events(id uuid.UUID) ([]models.UserEvent, error) {
	rt, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return rt.events.Events(), nil
}

// State returns the scheduler state and mute flag of a running session.
func (m *LiveSessions) State(id uuid.UUID) (models.StateUpdate, error) {
	rt, err := m.get(id)
	if err != nil {
		return models.StateUpdate{}, err
	}
	return models.StateUpdate{State: string(rt.sched.State()), Muted: rt.sched.Muted()}, nil
}

// Handle dispatches one client message. End-session messages return the
// queued job.
func (m *LiveSessions) Handle(ctx context.Context, id uuid.UUID, msg models.ClientMessage) (*models.Job, error) {
	rt, err := m.get(id)
	if err != nil {
		return nil, err
	}
	rt.touch(m.clock.Now())

	switch msg.Type {
	case ClientBridge:
		var bm frame.BridgeMessage
		if err := decodeData(msg.Data, &bm); err != nil {
			return nil, err
		}
		rt.frame.Relay(bm)
	case ClientFrameLoad:
		rt.frame.FrameLoaded()
	case ClientFrameError:
		rt.frame.FrameError()
	case ClientFrameAccess:
		var d struct {
			Result frame.AccessResult `json:"result"`
		}
		if err := decodeData(msg.Data, &d); err != nil {
			return nil, err
		}
		rt.frame.ReportAccess(d.Result)
	case ClientLocation:
		var d struct {
			Href string `json:"href"`
		}
		if err := decodeData(msg.Data, &d); err != nil {
			return nil, err
		}
		rt.frame.CheckLocation(d.Href)
	case ClientUseProxy:
		rt.frame.UseProxy()
	case ClientUserMessage:
		var d struct {
			Text string `json:"text"`
		}
		if err := decodeData(msg.Data, &d); err != nil {
			return nil, err
		}
		rt.sched.UserMessage(d.Text)
	case ClientMute:
		var d struct {
			Muted bool `json:"muted"`
		}
		if err := decodeData(msg.Data, &d); err != nil {
			return nil, err
		}
		rt.sched.SetMuted(d.Muted)
	case ClientPlaybackComplete:
		var d struct {
			PlaybackID uint64 `json:"playback_id"`
		}
		if err := decodeData(msg.Data, &d); err != nil {
			return nil, err
		}
		rt.sched.PlaybackComplete(d.PlaybackID)
	case ClientEndSession:
		var d models.EndLiveRequest
		if err := decodeData(msg.Data, &d); err != nil {
			return nil, err
		}
		return m.End(ctx, id, d.SurveyAnswers)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	return nil, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// End validates the survey, snapshots the session and queues it for
// finalisation. The runtime is discarded once the job is queued.
func (m *LiveSessions) End(ctx context.Context, id uuid.UUID, answers map[string]int) (*models.Job, error) {
	if err := survey.Validate(answers); err != nil {
		return nil, err
	}
	rt, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if answers == nil {
		answers = map[string]int{}
	}

	payload := models.FinalizePayload{
		TestURL:             rt.testURL,
		ProjectID:           rt.projectID,
		UserEvents:          rt.events.Events(),
		ConversationHistory: rt.sched.Transcript(),
		SurveyAnswers:       answers,
		StartedAt:           rt.startedAt.UnixMilli(),
		EndedAt:             m.clock.Now().UnixMilli(),
	}
	job, err := m.cfg.Queue.EnqueueFinalize(ctx, id, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue finalize: %w", err)
	}

	m.remove(id)
	rt.close()
	rt.logger.Info().Str("job_id", job.ID.String()).Int("events", len(payload.UserEvents)).Msg("live session ended")
	return job, nil
}

// Discard drops a session without saving it.
func (m *LiveSessions) Discard(id uuid.UUID) {
	rt, err := m.get(id)
	if err != nil {
		return
	}
	m.remove(id)
	rt.close()
}

func (m *LiveSessions) remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// ReapIdle discards sessions with no client traffic since before cutoff and
// returns how many were dropped.
func (m *LiveSessions) ReapIdle(cutoff time.Time) int {
	m.mu.RLock()
	var stale []uuid.UUID
	for id, rt := range m.sessions {
		if rt.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Info().Str("live_id", id.String()).Msg("discarding idle live session")
		m.Discard(id)
	}
	return len(stale)
}

// Len returns the number of running sessions.
func (m *LiveSessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown discards every running session.
func (m *LiveSessions) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[uuid.UUID]*liveRuntime)
	m.mu.Unlock()
	for _, rt := range all {
		rt.close()
	}
}
