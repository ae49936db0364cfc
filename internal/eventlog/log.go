// Package eventlog holds the append-only sequence of interaction events
// captured during one live session.
package eventlog

import (
	"sync"
	"time"

	"ava-backend/internal/clock"
	"ava-backend/internal/models"
)

// Log is an ordered, append-only event sequence. Appends are atomic with
// respect to reads: a reader sees an event fully or not at all. Nothing is
// evicted until the owning session ends.
type Log struct {
	clock clock.Clock
	start time.Time

	mu          sync.RWMutex
	events      []*models.UserEvent
	lastElapsed int64
}

// New returns an empty log whose events are stamped relative to start.
func New(clk clock.Clock, start time.Time) *Log {
	return &Log{clock: clk, start: start}
}

func (l *Log) Start() time.Time { return l.start }

// Append stamps a copy of ev with the current time and the elapsed time since
// the session start, stores it and returns the stored reference. Stamps taken
// by the producer are overwritten. The reference identifies the event for
// "already handled" checks; callers must not mutate it.
func (l *Log) Append(ev models.UserEvent) *models.UserEvent {
	stored := ev
	if ev.Data != nil {
		stored.Data = make(map[string]any, len(ev.Data))
		for k, v := range ev.Data {
			stored.Data[k] = v
		}
	}

	l.mu.Lock()
	now := l.clock.Now()
	elapsed := now.Sub(l.start).Milliseconds()
	if elapsed < l.lastElapsed {
		elapsed = l.lastElapsed
	}
	l.lastElapsed = elapsed
	stored.Timestamp = now.UnixMilli()
	stored.ElapsedTime = elapsed
	l.events = append(l.events, &stored)
	l.mu.Unlock()
	return &stored
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Snapshot returns the stored references in append order.
func (l *Log) Snapshot() []*models.UserEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*models.UserEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Events returns value copies suitable for persistence or serialisation.
func (l *Log) Events() []models.UserEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.UserEvent, len(l.events))
	for i, ev := range l.events {
		out[i] = *ev
	}
	return out
}

// Qualifying returns the events that may trigger a question, in append order.
func (l *Log) Qualifying() []*models.UserEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*models.UserEvent
	for _, ev := range l.events {
		if ev.Qualifies() {
			out = append(out, ev)
		}
	}
	return out
}

// LatestQualifying returns the newest event that may trigger a question, or nil.
func (l *Log) LatestQualifying() *models.UserEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Qualifies() {
			return l.events[i]
		}
	}
	return nil
}

// Count returns how many events of type t have been appended.
func (l *Log) Count(t string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
