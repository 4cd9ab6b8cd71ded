package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chat-relay-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// Counter 是固定窗口计数所需的 Redis 命令，*redis.Client 满足该接口。
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RateLimit 按客户端 IP 在固定窗口内限制请求数，超出时返回 429。
// 窗口从第一次计数开始，到 key 过期结束。
// Redis 不可用时放行并记录警告。
func RateLimit(counter Counter, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "ratelimit:" + c.ClientIP()

		count, err := counter.Incr(ctx, key).Result()
		if err != nil {
			log.Warnf("限流计数失败，放行请求: %v", err)
			c.Next()
			return
		}
		if count == 1 {
			if err := counter.Expire(ctx, key, window).Err(); err != nil {
				log.Warnf("设置限流窗口过期时间失败: %v", err)
			}
		}
		if count > limit {
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(ctx, counter, key, window)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// retryAfterSeconds 返回当前窗口剩余的秒数，向上取整且至少为 1。
// 读取 TTL 失败或 key 没有过期时间时按整个窗口计算。
func retryAfterSeconds(ctx context.Context, counter Counter, key string, window time.Duration) int64 {
	remaining, err := counter.TTL(ctx, key).Result()
	if err != nil || remaining <= 0 {
		remaining = window
	}
	secs := int64((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
