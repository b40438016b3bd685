package db

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var Redis *redis.Client

// ProcessQueueKey holds channel IDs waiting for a processing run.
const ProcessQueueKey = "stocktrack:queue:process"

func ConnectRedis(ctx context.Context) error {
	redisURL := os.Getenv("REDIS_URL")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}

	Redis = redis.NewClient(opt)
	return Redis.Ping(ctx).Err()
}

func CloseRedis() {
	if Redis != nil {
		Redis.Close()
	}
}

func PushToQueue(ctx context.Context, queueKey, value string) error {
	return Redis.LPush(ctx, queueKey, value).Err()
}

// PopFromQueue blocks until an item arrives or the timeout elapses. A zero
// timeout blocks indefinitely.
func PopFromQueue(ctx context.Context, queueKey string, timeout time.Duration) (string, error) {
	res, err := Redis.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		return "", err
	}
	return res[1], nil
}
