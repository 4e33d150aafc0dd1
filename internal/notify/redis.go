package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannel = "greenline:notifications"

// RedisPublisher is the part of *redis.Client the dispatcher needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	Client  RedisPublisher
	Channel string
}

// NewRedisClient connects to addr, which may be host:port or a redis:// URL,
// and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		if strings.Contains(addr, "://") {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (r Redis) Notify(ctx context.Context, ev Event) error {
	if r.Client == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	channel := r.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}
	if err := r.Client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
