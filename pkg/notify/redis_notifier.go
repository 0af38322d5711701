package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier appends notifications to a Redis stream. Consumers read
// the stream with consumer groups; this side only appends.
type RedisNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisConfig configures the Redis stream publisher.
type RedisConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewRedisNotifier creates a stream notifier.
func NewRedisNotifier(cfg RedisConfig) (*RedisNotifier, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "tramitex:notifications"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisNotifier{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Notify appends one entry to the stream.
func (n *RedisNotifier) Notify(ctx context.Context, notification Notification) error {
	sentAt := notification.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"notification_id": notification.ID,
			"expediente_id":   notification.Document.ExpedienteID,
			"recipient":       notification.Recipient.Username,
			"recipient_unit":  notification.Recipient.Unit,
			"actor":           notification.Actor.Username,
			"observations":    notification.Observations,
			"sent_at":         sentAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

// Close releases the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
