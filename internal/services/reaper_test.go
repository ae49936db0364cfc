package services

import (
	"testing"
	"time"

	"ava-backend/internal/clock"
	"ava-backend/internal/models"
)

func TestReaperDiscardsIdleSessions(t *testing.T) {
	start := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	live := newTestLive(clk, &recordingQueue{}, &recordingUpdates{})

	stale, err := live.Start(t.Context(), models.StartLiveRequest{TestURL: "https://example.com"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(20 * time.Minute)
	fresh, err := live.Start(t.Context(), models.StartLiveRequest{TestURL: "https://example.com"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(live.Shutdown)

	reaper := NewSessionReaper(live, 30*time.Minute)
	reaper.now = func() time.Time { return start.Add(35 * time.Minute) }

	if n := reaper.runOnce(); n != 1 {
		t.Fatalf("expected one session reaped, got %d", n)
	}
	if live.Exists(stale.SessionID) {
		t.Fatalf("expected idle session to be discarded")
	}
	if !live.Exists(fresh.SessionID) {
		t.Fatalf("expected recent session to survive")
	}
}

func TestReaperStopIsIdempotent(t *testing.T) {
	r := NewSessionReaper(nil, time.Minute)
	r.Start()
	r.Stop()
	r.Stop()
}
