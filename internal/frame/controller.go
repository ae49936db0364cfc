// Package frame owns the participant's embedded view of the tested site. It
// normalises what the host page and the in-frame observer bridge report into
// session events, tracks how the site can be observed and detects inactivity.
package frame

import (
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ava-backend/internal/clock"
	"ava-backend/internal/models"
)

const InactivityTimeout = 30 * time.Second

// Recorder stores a normalised event. Stamping happens there, at emission.
type Recorder interface {
	Record(ev models.UserEvent)
}

// Publisher receives frame-mode updates for the participant page.
type Publisher interface {
	Publish(msg models.WSMessage)
}

// BridgeMessage is what the observer bridge posts out of the frame.
type BridgeMessage struct {
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
	Source string         `json:"source,omitempty"`
}

type Config struct {
	TestURL string
	// ProxyBase is the absolute proxy endpoint, e.g. https://ava.example/api/v1/proxy.
	ProxyBase string
	Clock     clock.Clock
	Recorder  Recorder
	Publisher Publisher
	Logger    *zerolog.Logger
}

type Controller struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu           sync.Mutex
	mode         Mode
	readable     bool
	lastURL      string
	lastActivity time.Time
	idle         clock.Timer
	idleGen      uint64
	started      bool
	closed       bool
}

func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: logger.With().Str("component", "frame").Logger(),
		mode:   ModeUnknown,
	}
}

// ProxyURL is the frame source used in proxy mode.
func (c *Controller) ProxyURL() string {
	return ProxyURL(c.cfg.ProxyBase, c.cfg.TestURL)
}

// ProxyURL builds the proxy frame source for target.
func ProxyURL(base, target string) string {
	return base + "?url=" + url.QueryEscape(target)
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Start arms inactivity detection and announces the initial frame source.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.lastActivity = c.clock.Now()
	c.armIdleLocked()
	c.publishFrameLocked(c.cfg.TestURL)
}

// FrameLoaded handles the frame's load event. A page_load event is emitted
// whether or not the bridge could be installed. A load after a failure
// clears the recovery state.
func (c *Controller) FrameLoaded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.mode == ModeBlocked {
		c.setModeLocked(ModeUnknown)
		c.publishFrameLocked(c.cfg.TestURL)
	}
	c.emitLocked(models.UserEvent{
		Type: models.EventPageLoad,
		Data: map[string]any{"url": c.cfg.TestURL},
	})
}

// Relay accepts a message posted by the observer bridge. Messages without a
// type are dropped. Instrumentation messages are kept in the log with their
// source so downstream filters can recognise them.
func (c *Controller) Relay(msg BridgeMessage) {
	if msg.Type == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.mode == ModeUnknown && msg.Source != models.DevToolsSource {
		c.setModeLocked(ModeInjected)
	}
	c.emitLocked(models.UserEvent{Type: msg.Type, Data: msg.Data, Source: msg.Source})
}

// ReportAccess records the host page's probe of the frame document. A denied
// probe means "cannot verify" and is never surfaced to the participant.
func (c *Controller) ReportAccess(result AccessResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch result {
	case AccessDirect:
		c.readable = true
		if c.mode == ModeUnknown {
			c.setModeLocked(ModeDirectAccessOk)
		}
	case AccessInjected:
		if c.mode == ModeUnknown {
			c.setModeLocked(ModeInjected)
		}
	case AccessDenied:
		c.readable = false
		c.logger.Debug().Msg("frame not readable, relying on load events and bridge")
	}
}

// CheckLocation handles the host's periodic read of the frame location. It
// emits route_change when the location moved since the previous read. Reads
// are ignored unless the frame document is readable.
func (c *Controller) CheckLocation(href string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.readable || href == "" || href == c.lastURL {
		return
	}
	prev := c.lastURL
	c.lastURL = href
	if prev == "" {
		return
	}
	c.emitLocked(models.UserEvent{
		Type: models.EventRouteChange,
		Data: map[string]any{"from": prev, "to": href},
	})
}

// FrameError handles an outright load failure (embedding refused). It moves
// to Blocked and offers the proxy as recovery.
func (c *Controller) FrameError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mode == ModeProxyFallback {
		return
	}
	c.setModeLocked(ModeBlocked)
	c.publishFrameLocked("")
}

// UseProxy switches the frame to the rewriting proxy and returns its source.
func (c *Controller) UseProxy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.ProxyURL()
	if c.closed {
		return src
	}
	c.readable = false
	c.lastURL = ""
	c.setModeLocked(ModeProxyFallback)
	c.publishFrameLocked(src)
	return src
}

// Close stops inactivity detection.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.idleGen++
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

func (c *Controller) emitLocked(ev models.UserEvent) {
	if ev.Type != models.EventInactivity {
		c.lastActivity = c.clock.Now()
	}
	c.cfg.Recorder.Record(ev)
	if c.started {
		c.armIdleLocked()
	}
}

func (c *Controller) armIdleLocked() {
	c.idleGen++
	if c.idle != nil {
		c.idle.Stop()
	}
	gen := c.idleGen
	c.idle = c.clock.AfterFunc(InactivityTimeout, func() { c.onIdle(gen) })
}

func (c *Controller) onIdle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.idleGen {
		return
	}
	c.idle = nil
	idleFor := c.clock.Now().Sub(c.lastActivity)
	if idleFor < InactivityTimeout {
		c.armIdleLocked()
		return
	}
	c.emitLocked(models.UserEvent{
		Type: models.EventInactivity,
		Data: map[string]any{"duration": idleFor.Milliseconds()},
	})
}

func (c *Controller) setModeLocked(m Mode) {
	if c.mode == m {
		return
	}
	c.logger.Debug().Str("from", c.mode.String()).Str("to", m.String()).Msg("frame mode change")
	c.mode = m
}

func (c *Controller) publishFrameLocked(src string) {
	if c.cfg.Publisher == nil {
		return
	}
	update := models.FrameUpdate{Mode: c.mode.String(), Src: src}
	if c.mode == ModeBlocked {
		update.ProxyURL = c.ProxyURL()
	}
	c.cfg.Publisher.Publish(models.WSMessage{Type: models.WSFrame, Payload: update})
}
