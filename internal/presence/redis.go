package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror persists presence status under <prefix>:presence:<userID> so
// other services can render "last seen" after this process restarts.
type RedisMirror struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

func NewRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix, timeout: 2 * time.Second}
}

func (m *RedisMirror) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

func (m *RedisMirror) SetOnline(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	b, _ := json.Marshal(map[string]any{"status": "online", "last_seen": time.Now().Unix()})
	return m.client.Set(ctx, m.key(userID), b, 0).Err()
}

func (m *RedisMirror) SetOffline(userID string, lastSeen time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	b, _ := json.Marshal(map[string]any{"status": "offline", "last_seen": lastSeen.Unix()})
	return m.client.Set(ctx, m.key(userID), b, 0).Err()
}
