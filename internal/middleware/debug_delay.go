package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// DebugDelay 在处理请求之前等待 ms 毫秒，用于观察客户端的加载状态；ms<=0 时不做任何事。
// 客户端断开时提前返回。
func DebugDelay(ms int) gin.HandlerFunc {
	if ms <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	d := time.Duration(ms) * time.Millisecond
	return func(c *gin.Context) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.Next()
		case <-c.Request.Context().Done():
			c.Abort()
		}
	}
}
