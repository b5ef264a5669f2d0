package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// rateLimitMiddleware builds a gin middleware that caps requests per
// client IP to perMinute requests, mirroring the teacher's security
// middleware rate limiter shape.
func rateLimitMiddleware(perMinute int, logger *zap.Logger) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = 60
	}
	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	store := memory.NewStore()
	rateLimiter := limiter.New(store, rate)

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		limiterCtx, err := rateLimiter.Get(ctx, c.ClientIP())
		if err != nil {
			logger.Error("failed to evaluate rate limit", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiterCtx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limiterCtx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limiterCtx.Reset, 10))

		if limiterCtx.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
