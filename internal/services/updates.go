package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ava-backend/internal/models"
)

// UpdateChannel is the pub/sub channel carrying updates for one live session.
func UpdateChannel(liveID uuid.UUID) string {
	return fmt.Sprintf("session_updates:%s", liveID.String())
}

// UpdatePublisher delivers outbound updates for a live session.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, liveID uuid.UUID, msg models.WSMessage) error
}

// RedisUpdates publishes updates over redis pub/sub so every server
// instance holding a websocket for the session can forward them.
type RedisUpdates struct {
	redis *redis.Client
}

func NewRedisUpdates(client *redis.Client) *RedisUpdates {
	return &RedisUpdates{redis: client}
}

func (u *RedisUpdates) PublishUpdate(ctx context.Context, liveID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return u.redis.Publish(ctx, UpdateChannel(liveID), string(data)).Err()
}
