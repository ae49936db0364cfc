// Package scheduler decides when Ava speaks during a live session. It watches
// the session event log, coalesces bursts of activity, requests the next
// question from a Responder and drives the idle/thinking/speaking/listening
// state machine, including the single audio-playback handle.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ava-backend/internal/clock"
	"ava-backend/internal/eventlog"
	"ava-backend/internal/models"
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateSpeaking  State = "speaking"
	StateThinking  State = "thinking"
)

const (
	RouteChangeDelay = 2 * time.Second
	DefaultDelay     = 4 * time.Second
	ListeningGrace   = 2 * time.Second

	// Per-character estimate used when speech cannot be synthesised.
	fallbackPerChar = 50 * time.Millisecond
	requestTimeout  = 60 * time.Second
)

// Prompt is what the scheduler hands to a Responder for one episode.
type Prompt struct {
	Request models.ChatRequest
	// Latest is the event being asked about; nil for participant-initiated turns.
	Latest         *models.UserEvent
	QuestionsAsked int
}

// Responder produces Ava's next utterance. An empty reply means "say nothing".
type Responder interface {
	Respond(ctx context.Context, p Prompt) (string, error)
}

type ResponderFunc func(ctx context.Context, p Prompt) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// Voice turns text into playable audio.
type Voice interface {
	Synthesize(ctx context.Context, text string) (audio []byte, mimeType string, err error)
}

// Publisher receives outbound updates. Publish is called with the scheduler
// lock held and must not call back into the scheduler.
type Publisher interface {
	Publish(msg models.WSMessage)
}

type Config struct {
	TestURL            string
	WalkthroughContext string
	Clock              clock.Clock
	Log                *eventlog.Log
	Responder          Responder
	Voice              Voice
	Publisher          Publisher
	// Exec runs an episode. Defaults to a new goroutine.
	Exec   func(func())
	Logger *zerolog.Logger
}

type Scheduler struct {
	cfg    Config
	clock  clock.Clock
	events *eventlog.Log
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	muted      bool
	closed     bool
	transcript []models.ConversationMessage

	// single-slot pending question
	pending       clock.Timer
	pendingGen    uint64
	lastScheduled *models.UserEvent

	episode uint64

	// single audio-playback handle
	playing    uint64
	playbackID uint64
	fallback   clock.Timer
	grace      clock.Timer
	graceGen   uint64
}

func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = func(f func()) { go f() }
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		clock:  cfg.Clock,
		events: cfg.Log,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Transcript returns a copy of the conversation so far.
func (s *Scheduler) Transcript() []models.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Observe is called after an event has been appended to the log. A
// qualifying event replaces any pending question with one scheduled against
// the newest qualifying event.
func (s *Scheduler) Observe(ev *models.UserEvent) {
	if !ev.Qualifies() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	latest := s.events.LatestQualifying()
	if latest == nil || latest == s.lastScheduled {
		return
	}
	s.lastScheduled = latest

	delay := DefaultDelay
	if latest.Type == models.EventRouteChange {
		delay = RouteChangeDelay
	}

	s.cancelPendingLocked()
	gen := s.pendingGen
	s.pending = s.clock.AfterFunc(delay, func() { s.fire(gen) })
	s.logger.Debug().Str("event", latest.Type).Dur("delay", delay).Msg("question scheduled")
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.pendingGen {
		s.mu.Unlock()
		return
	}
	s.pending = nil

	if s.muted || s.state == StateSpeaking || s.state == StateThinking {
		s.logger.Debug().Str("state", string(s.state)).Bool("muted", s.muted).Msg("scheduled question dropped")
		s.mu.Unlock()
		return
	}

	latest := s.lastScheduled
	qualifying := s.events.Qualifying()
	userEvents := make([]models.UserEvent, len(qualifying))
	for i, ev := range qualifying {
		userEvents[i] = *ev
	}

	prompt := Prompt{
		Request: models.ChatRequest{
			Messages:           models.TurnsFromConversation(s.transcript),
			UserEvents:         userEvents,
			TestURL:            s.cfg.TestURL,
			WalkthroughContext: s.cfg.WalkthroughContext,
			Context:            "The user just performed a " + latest.Type + " action. Generate a brief, contextual question about their experience.",
		},
		Latest:         latest,
		QuestionsAsked: s.events.Count(models.EventQuestionAsked),
	}
	ep := s.beginEpisodeLocked()
	s.mu.Unlock()

	s.cfg.Exec(func() { s.runEpisode(ep, prompt) })
}

// UserMessage records a participant utterance and immediately requests a
// reply, bypassing the debounce. While a request is already in flight the
// message is only recorded.
func (s *Scheduler) UserMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	msg := models.ConversationMessage{Speaker: models.SpeakerUser, Text: text, Timestamp: s.clock.Now().UnixMilli()}
	s.transcript = append(s.transcript, msg)
	s.publishLocked(models.WSTranscript, msg)
	s.cancelPendingLocked()

	if s.state == StateThinking {
		s.mu.Unlock()
		return
	}
	if s.state == StateSpeaking {
		s.stopPlaybackLocked()
	}

	prompt := Prompt{
		Request: models.ChatRequest{
			Messages:           models.TurnsFromConversation(s.transcript),
			UserEvents:         s.events.Events(),
			TestURL:            s.cfg.TestURL,
			WalkthroughContext: s.cfg.WalkthroughContext,
		},
		QuestionsAsked: s.events.Count(models.EventQuestionAsked),
	}
	ep := s.beginEpisodeLocked()
	s.mu.Unlock()

	s.cfg.Exec(func() { s.runEpisode(ep, prompt) })
}

// SetMuted toggles mute. Muting cancels the pending question, discards the
// current playback and forces idle.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.muted = muted
	if muted {
		s.cancelPendingLocked()
		s.cancelGraceLocked()
		s.stopPlaybackLocked()
		s.state = StateIdle
	}
	s.publishStateLocked()
}

// PlaybackComplete reports that the client finished playing playback id.
// Completions for discarded playbacks are ignored.
func (s *Scheduler) PlaybackComplete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || id == 0 || id != s.playing || s.state != StateSpeaking {
		return
	}
	s.playing = 0
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	s.setStateLocked(StateListening)

	s.cancelGraceLocked()
	gen := s.graceGen
	s.grace = s.clock.AfterFunc(ListeningGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.graceGen || s.state != StateListening {
			return
		}
		s.grace = nil
		s.setStateLocked(StateIdle)
	})
}

// Close cancels every timer and in-flight request. Later calls are no-ops.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelPendingLocked()
	s.cancelGraceLocked()
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	s.playing = 0
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) beginEpisodeLocked() uint64 {
	s.episode++
	s.cancelGraceLocked()
	s.setStateLocked(StateThinking)
	return s.episode
}

func (s *Scheduler) runEpisode(ep uint64, p Prompt) {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	text, err := s.cfg.Responder.Respond(ctx, p)
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if s.closed || ep != s.episode {
		s.mu.Unlock()
		return
	}
	if err != nil || text == "" {
		if err != nil {
			s.logger.Warn().Err(err).Msg("question request failed")
		}
		if s.state == StateThinking {
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
		return
	}

	msg := models.ConversationMessage{Speaker: models.SpeakerAI, Text: text, Timestamp: s.clock.Now().UnixMilli()}
	s.transcript = append(s.transcript, msg)
	s.publishLocked(models.WSTranscript, msg)
	asked := s.events.Append(models.UserEvent{Type: models.EventQuestionAsked})
	s.publishLocked(models.WSEvent, asked)

	if s.muted {
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return
	}

	s.stopPlaybackLocked()
	s.playbackID++
	id := s.playbackID
	s.playing = id
	s.setStateLocked(StateSpeaking)
	s.mu.Unlock()

	s.speak(ctx, id, text)
}

func (s *Scheduler) speak(ctx context.Context, id uint64, text string) {
	var (
		audio []byte
		mime  string
		err   error
	)
	if s.cfg.Voice != nil {
		audio, mime, err = s.cfg.Voice.Synthesize(ctx, text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.playing != id {
		return
	}

	update := models.SpeakUpdate{PlaybackID: id, Text: text}
	if s.cfg.Voice == nil || err != nil || len(audio) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Msg("speech synthesis failed")
		}
		delay := time.Duration(len(text)) * fallbackPerChar
		s.fallback = s.clock.AfterFunc(delay, func() { s.PlaybackComplete(id) })
	} else {
		update.Audio = audio
		update.MimeType = mime
	}
	s.publishLocked(models.WSSpeak, update)
}

func (s *Scheduler) cancelPendingLocked() {
	s.pendingGen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Scheduler) cancelGraceLocked() {
	s.graceGen++
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

func (s *Scheduler) stopPlaybackLocked() {
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	if s.playing == 0 {
		return
	}
	s.publishLocked(models.WSStopAudio, map[string]uint64{"playback_id": s.playing})
	s.playing = 0
}

func (s *Scheduler) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug().Str("from", string(s.state)).Str("to", string(st)).Msg("state change")
	s.state = st
	s.publishStateLocked()
}

func (s *Scheduler) publishStateLocked() {
	s.publishLocked(models.WSState, models.StateUpdate{State: string(s.state), Muted: s.muted})
}

func (s *Scheduler) publishLocked(kind string, payload interface{}) {
	if s.cfg.Publisher == nil {
		return
	}
	s.cfg.Publisher.Publish(models.WSMessage{Type: kind, Payload: payload})
}
