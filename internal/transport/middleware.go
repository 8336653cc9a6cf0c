package transport

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	contextUserIdKey = "user_id"
	contextRoleKey   = "role"

	contextRequestIdKey = "request_id"
	requestIdHeader     = "X-Request-Id"

	internalServiceHeader = "X-Internal-Service"
)

// Claims are issued by the identity service; this service only verifies them.
type Claims struct {
	UserId string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func parseToken(secret []byte, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserId == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// authRequired verifies the bearer JWT and stores the caller in the context.
func authRequired(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			fail(c, http.StatusUnauthorized, codeMissingToken, "authorization header missing")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			fail(c, http.StatusUnauthorized, codeInvalidToken, "invalid authorization header format")
			return
		}

		claims, err := parseToken(key, strings.TrimSpace(parts[1]))
		if err != nil {
			fail(c, http.StatusUnauthorized, codeInvalidToken, "invalid token")
			return
		}

		c.Set(contextUserIdKey, claims.UserId)
		c.Set(contextRoleKey, claims.Role)
		withActor(c, claims.UserId, claims.Role)
		c.Next()
	}
}

// withActor carries the caller into the request context for the domain services.
func withActor(c *gin.Context, userId, role string) {
	actor := &models.Actor{
		UserId:    userId,
		Role:      role,
		RequestId: c.GetString(contextRequestIdKey),
	}
	c.Request = c.Request.WithContext(models.WithActor(c.Request.Context(), actor))
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(contextRoleKey) != role {
			fail(c, http.StatusForbidden, codeForbiddenRole, "insufficient role")
			return
		}
		c.Next()
	}
}

// internalServiceRequired guards service-to-service routes with a shared token.
func internalServiceRequired(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(internalServiceHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			fail(c, http.StatusUnauthorized, codeBadServiceToken, "invalid service token")
			return
		}
		withActor(c, "", models.RoleService)
		c.Next()
	}
}

type userLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// rateLimiter keeps one token bucket per authenticated user.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

func newRateLimiter(perMinute int) *rateLimiter {
	perMinute = max(perMinute, 1)
	return &rateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
		idle:     5 * time.Minute,
	}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, l := range r.limiters {
		if now.After(l.expires) {
			delete(r.limiters, k)
		}
	}

	l, ok := r.limiters[key]
	if !ok {
		l = &userLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = l
	}
	l.expires = now.Add(r.idle)
	return l.limiter.AllowN(now, 1)
}

func (r *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(contextUserIdKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !r.allow(key, time.Now()) {
			fail(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// requestLogger logs each request through zap and records HTTP metrics.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestId := c.GetHeader(requestIdHeader)
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Set(contextRequestIdKey, requestId)
		c.Header(requestIdHeader, requestId)
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, c.FullPath(), status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestId),
		}
		if userId := c.GetString(contextUserIdKey); userId != "" {
			fields = append(fields, zap.String("user_id", userId))
		}

		switch {
		case status >= http.StatusInternalServerError:
			zap.L().Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			zap.L().Warn("HTTP request", fields...)
		default:
			zap.L().Info("HTTP request", fields...)
		}
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		zap.L().Error("Panic while handling request",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered))
		fail(c, http.StatusInternalServerError, codeInternal, "internal error")
	})
}
