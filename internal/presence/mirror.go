package presence

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultMirrorKey is the Redis set holding the ids of online users.
const DefaultMirrorKey = "coordinator:online"

// RedisMirror reflects presence transitions into a Redis set.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedisMirror wraps the supplied client. An empty key selects
// DefaultMirrorKey.
func NewRedisMirror(client *redis.Client, key string) *RedisMirror {
	if key == "" {
		key = DefaultMirrorKey
	}
	return &RedisMirror{client: client, key: key}
}

// Online adds the user id to the online set.
func (m *RedisMirror) Online(ctx context.Context, userID int64) error {
	return m.client.SAdd(ctx, m.key, strconv.FormatInt(userID, 10)).Err()
}

// Offline removes the user id from the online set.
func (m *RedisMirror) Offline(ctx context.Context, userID int64) error {
	return m.client.SRem(ctx, m.key, strconv.FormatInt(userID, 10)).Err()
}
