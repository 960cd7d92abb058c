package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidscribe-backend/internal/models"
)

// Notifier delivers progress messages to a user's live connections.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

// SourceLocker serializes extractions of one source across processes.
type SourceLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string)
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	if err := n.rdb.Publish(ctx, UserChannel(userID), string(data)).Err(); err != nil {
		log.Printf("Failed to publish %s update for user %s: %v", msg.Type, userID, err)
	}
}

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, "extract_lock:"+key, "1", ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, key string) {
	l.rdb.Del(ctx, "extract_lock:"+key)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, uuid.UUID, models.WSMessage) {}

type noopLocker struct{}

func (noopLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (noopLocker) Unlock(context.Context, string)                             {}
