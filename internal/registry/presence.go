package registry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brandongregoryscott/pipegate/internal/logger"
)

// PresencePublisher mirrors tunnel connect/disconnect events to a Redis
// pub/sub channel for external dashboards. It is purely advisory: the
// in-memory Registry remains the sole source of truth for dispatch, and
// nothing is ever read back from Redis, so PipeGate still carries no
// persistent state across restarts.
type PresencePublisher struct {
	client  *redis.Client
	channel string
}

// NewPresencePublisher parses redisURL (e.g. "redis://localhost:6379/0") and
// returns a publisher for the given pub/sub channel; the Redis client connects
// lazily on first publish. A nil *PresencePublisher
// is valid and every method on it is a no-op, so callers can leave presence
// publishing disabled by simply not constructing one.
func NewPresencePublisher(redisURL, channel string) (*PresencePublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if channel == "" {
		channel = "pipegate:presence"
	}
	return &PresencePublisher{client: client, channel: channel}, nil
}

// Online announces that connID's tunnel became active.
func (p *PresencePublisher) Online(connID string) {
	p.publish(connID, "online")
}

// Offline announces that connID's tunnel closed.
func (p *PresencePublisher) Offline(connID string) {
	p.publish(connID, "offline")
}

func (p *PresencePublisher) publish(connID, event string) {
	if p == nil || p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := connID + ":" + event
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		logger.Tunnel().Warn().Err(err).Str("conn_id", connID).Msg("presence publish failed")
	}
}

// Close releases the underlying Redis client.
func (p *PresencePublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
