package services

import (
	"time"

	"github.com/rs/zerolog/log"
)

const reaperPollInterval = 1 * time.Minute

// SessionReaper periodically discards live sessions whose participant went
// away without ending the test.
type SessionReaper struct {
	live        *LiveSessions
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	stopChan    chan struct{}
}

func NewSessionReaper(live *LiveSessions, idleTimeout time.Duration) *SessionReaper {
	return &SessionReaper{
		live:        live,
		idleTimeout: idleTimeout,
		interval:    reaperPollInterval,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

func (r *SessionReaper) Start() {
	if r.live == nil || r.idleTimeout <= 0 {
		return
	}
	go r.loop()
	log.Info().Dur("idle_timeout", r.idleTimeout).Msg("live session reaper started")
}

func (r *SessionReaper) Stop() {
	select {
	case <-r.stopChan:
		return
	default:
		close(r.stopChan)
	}
}

func (r *SessionReaper) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *SessionReaper) runOnce() int {
	n := r.live.ReapIdle(r.now().Add(-r.idleTimeout))
	if n > 0 {
		log.Info().Int("discarded", n).Msg("reaped idle live sessions")
	}
	return n
}
