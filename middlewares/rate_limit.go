// file: middlewares/rate_limit.go
package middlewares

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
)

// RateLimitMiddleware 基于 Redis 的固定窗口限流，按 {客户端IP}_{动作} 计数。
// Redis 不可用时放行并记日志，限流只是防滥用手段，不能把服务打挂。
func RateLimitMiddleware(action string, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s_%s", c.ClientIP(), action)

		count, err := database.RDB.Incr(database.Ctx, key).Result()
		if err != nil {
			log.Printf("Rate limiter unavailable for %s: %v", action, err)
			c.Next()
			return
		}
		if count == 1 {
			database.RDB.Expire(database.Ctx, key, window)
		}

		remaining := int64(maxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(maxRequests) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code": 4029,
				"msg":  "请求过于频繁，请稍后再试",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
