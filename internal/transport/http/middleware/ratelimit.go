package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"medscan/internal/transport/http/response"
)

type RateLimitRecorder interface {
	RecordRateLimited()
}

// RateLimiter keeps one token bucket per user, or per client IP on public
// routes. Buckets idle for longer than idleTTL are evicted.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets *gocache.Cache
	metrics RateLimitRecorder
	logger  *zap.Logger
}

// NewRateLimiter allows perMinute requests per user with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int, metrics RateLimitRecorder, logger *zap.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	idle := 10 * time.Minute
	return &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idleTTL: idle,
		buckets: gocache.New(idle, idle),
		metrics: metrics,
		logger:  logger,
	}
}

// Middleware must run after AuthJWT.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return rl.MiddlewareWith(response.Abort)
}

func (rl *RateLimiter) MiddlewareWith(reject ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		userID, ok := UserID(c)
		if !ok {
			reject(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
			return
		}

		if !rl.limiter(strconv.FormatUint(uint64(userID), 10)).Allow() {
			rl.metrics.RecordRateLimited()
			rl.logger.Warn("rate limit exceeded", zap.Uint("user_id", userID), zap.String("route", c.FullPath()))
			c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			reject(c, http.StatusTooManyRequests, response.CodeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// ByClientIP limits unauthenticated routes per client address.
func (rl *RateLimiter) ByClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !rl.limiter("ip:" + ip).Allow() {
			rl.metrics.RecordRateLimited()
			rl.logger.Warn("rate limit exceeded", zap.String("client_ip", ip), zap.String("route", c.FullPath()))
			c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			response.Abort(c, http.StatusTooManyRequests, response.CodeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if v, found := rl.buckets.Get(key); found {
		rl.buckets.Set(key, v, rl.idleTTL)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	// Add fails if another request created the bucket first
	if err := rl.buckets.Add(key, l, rl.idleTTL); err != nil {
		if v, found := rl.buckets.Get(key); found {
			return v.(*rate.Limiter)
		}
	}
	return l
}

func (rl *RateLimiter) retryAfterSeconds() int {
	return int(math.Ceil(1 / float64(rl.limit)))
}
