// Package websocket carries the live session channel between the participant
// page and the server: client messages in, redis-fanned updates out.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ava-backend/internal/models"
	"ava-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 64 << 10
	handleTimeout  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// LiveSessions is the part of the live session manager the hub drives.
type LiveSessions interface {
	Exists(id uuid.UUID) bool
	State(id uuid.UUID) (models.StateUpdate, error)
	Handle(ctx context.Context, id uuid.UUID, msg models.ClientMessage) (*models.Job, error)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) writeJSON(msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*client
	cancelFuncs map[uuid.UUID]context.CancelFunc

	redisClient *redis.Client
	tokens      TokenVerifier
	live        LiveSessions

	// subscribe blocks delivering updates for liveID until ctx is done.
	subscribe func(ctx context.Context, liveID uuid.UUID, deliver func([]byte))
}

func NewHub(redisClient *redis.Client, tokens TokenVerifier, live LiveSessions) *Hub {
	h := &Hub{
		connections: make(map[uuid.UUID][]*client),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		redisClient: redisClient,
		tokens:      tokens,
		live:        live,
	}
	h.subscribe = h.subscribeToPubSub
	return h
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	liveID, err := h.tokens.Verify(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.live.Exists(liveID) {
		http.Error(w, "Live session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	h.registerConnection(liveID, c)

	if state, err := h.live.State(liveID); err == nil {
		c.writeJSON(models.WSMessage{Type: models.WSState, Payload: state})
	}

	done := make(chan struct{})
	go h.keepAlive(c, done)
	go func() {
		defer close(done)
		defer h.unregisterConnection(liveID, c)
		h.readLoop(liveID, c)
	}()
}

func (h *Hub) readLoop(liveID uuid.UUID, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.writeJSON(errorMessage("INVALID_MESSAGE", "message must be a JSON object with a type"))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		job, err := h.live.Handle(ctx, liveID, msg)
		cancel()
		if err != nil {
			c.writeJSON(handleErrorMessage(err))
			continue
		}
		if job != nil {
			c.writeJSON(models.WSMessage{
				Type:    models.WSSessionEnd,
				Payload: models.EndLiveResponse{JobID: job.ID},
			})
		}
	}
}

func handleErrorMessage(err error) models.WSMessage {
	switch {
	case errors.Is(err, services.ErrLiveSessionNotFound):
		return errorMessage("SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrInvalidMessage):
		return errorMessage("INVALID_MESSAGE", err.Error())
	default:
		log.Warn().Err(err).Msg("live message failed")
		return errorMessage("INTERNAL_ERROR", err.Error())
	}
}

func errorMessage(code, message string) models.WSMessage {
	return models.WSMessage{
		Type:    models.WSError,
		Payload: models.ErrorEvent{ErrorCode: code, ErrorMessage: message},
	}
}

func (h *Hub) keepAlive(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) registerConnection(liveID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[liveID] = append(h.connections[liveID], c)

	// First connection for this session starts the update subscription.
	if len(h.connections[liveID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[liveID] = cancel
		go h.subscribe(ctx, liveID, func(data []byte) { h.broadcast(liveID, data) })
	}

	log.Info().Str("live_id", liveID.String()).Int("connections", len(h.connections[liveID])).Msg("websocket connected")
}

func (h *Hub) unregisterConnection(liveID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[liveID]
	for i, existing := range conns {
		if existing == c {
			h.connections[liveID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[liveID]) == 0 {
		delete(h.connections, liveID)
		if cancel, ok := h.cancelFuncs[liveID]; ok {
			cancel()
			delete(h.cancelFuncs, liveID)
		}
	}

	log.Info().Str("live_id", liveID.String()).Msg("websocket disconnected")
}

func (h *Hub) subscribeToPubSub(ctx context.Context, liveID uuid.UUID, deliver func([]byte)) {
	pubsub := h.redisClient.Subscribe(ctx, services.UpdateChannel(liveID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			deliver([]byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(liveID uuid.UUID, data []byte) {
	h.mu.RLock()
	conns := append([]*client(nil), h.connections[liveID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		c.write(websocket.TextMessage, data)
	}
}

// Connections returns the number of open sockets for a live session.
func (h *Hub) Connections(liveID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[liveID])
}

// Shutdown closes every socket and stops all subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conns := range h.connections {
		for _, c := range conns {
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.conn.Close()
		}
		delete(h.connections, id)
	}
	for id, cancel := range h.cancelFuncs {
		cancel()
		delete(h.cancelFuncs, id)
	}
}
