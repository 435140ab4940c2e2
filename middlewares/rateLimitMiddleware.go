package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiter is a fixed-window request counter per client IP kept in Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware rejects requests over the limit with 429. Redis errors fail open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.client == nil {
			c.Next()
			return
		}
		key := rateLimitKeyPrefix + c.ClientIP()
		ctx := c.Request.Context()

		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			_ = c.Error(fmt.Errorf("rate limiter: %w", err))
			c.Next()
			return
		}
		// First hit of the window starts its expiry.
		if count == 1 {
			if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
				_ = c.Error(fmt.Errorf("rate limiter: %w", err))
			}
		}

		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
