package notify

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"github.com/redis/go-redis/v9"
)

const defaultRedisChannelPrefix = "laundry:notifications"

type redisPublishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes each notification on a per-user pub/sub channel
// named "<prefix>:<user id>".
type RedisPublisher struct {
	client        redisPublishClient
	channelPrefix string
}

// NewRedisClient builds a go-redis client for addr.
func NewRedisClient(addr string, password string, database int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})
}

// NewRedisPublisher wraps client. An empty prefix selects the default.
func NewRedisPublisher(client redisPublishClient, channelPrefix string) *RedisPublisher {
	if channelPrefix == "" {
		channelPrefix = defaultRedisChannelPrefix
	}
	return &RedisPublisher{client: client, channelPrefix: channelPrefix}
}

// Channel returns the pub/sub channel for userID.
func (publisher *RedisPublisher) Channel(userID laundry.UserID) string {
	return publisher.channelPrefix + ":" + userID.String()
}

// Publish implements laundry.NotificationPublisher.
func (publisher *RedisPublisher) Publish(ctx context.Context, notification laundry.Notification) error {
	payload, err := Encode(notification)
	if err != nil {
		return fmt.Errorf("redis notify: encode: %w", err)
	}
	if err := publisher.client.Publish(ctx, publisher.Channel(notification.UserID), payload).Err(); err != nil {
		return fmt.Errorf("redis notify: publish: %w", err)
	}
	return nil
}
