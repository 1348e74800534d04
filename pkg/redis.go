package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/campuskit/attempt-service/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects the checkpoint cache. Checkpoint reads sit on the
// attempt start path and the attempt store answers when Redis cannot, so
// the timeouts stay short rather than generous.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DialTimeout = 2 * time.Second
	opt.ReadTimeout = 500 * time.Millisecond
	opt.WriteTimeout = 500 * time.Millisecond
	opt.MinIdleConns = 2

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}
