package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedisWithRetry connects to REDIS_ADDRESS. Redis is optional for the
// notification engine, so unlike the database it gives up after
// REDIS_CONNECT_ATTEMPTS and returns an error the caller may log and ignore.
func ConnectRedisWithRetry(ctx context.Context) (*redis.Client, error) {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDRESS not set")
	}
	maxAttempts := intFromEnv("REDIS_CONNECT_ATTEMPTS", 5)

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0, // use default DB
			PoolSize: intFromEnv("REDIS_POOL_SIZE", 20),
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return rdb, nil
		}
		_ = rdb.Close()
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("connect redis %s after %d attempts: %w", redisAddr, attempt, err)
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect redis: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}
