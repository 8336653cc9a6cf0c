package transport

import (
	"net/http"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/api"
	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/verification"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const defaultMaxImageBytes = 10 << 20

// Config is the part of the service configuration the router needs.
type Config struct {
	HTTP          models.HTTPConfig
	Auth          models.AuthConfig
	MaxImageBytes int64
}

type handler struct {
	verification  *verification.Service
	ledger        *api.LedgerService
	maxImageBytes int64
}

// NewRouter wires middlewares and routes onto a fresh gin engine.
func NewRouter(cfg Config, verificationService *verification.Service, ledger *api.LedgerService) *gin.Engine {
	switch strings.ToLower(cfg.HTTP.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	h := &handler{
		verification:  verificationService,
		ledger:        ledger,
		maxImageBytes: cfg.MaxImageBytes,
	}
	if h.maxImageBytes <= 0 {
		h.maxImageBytes = defaultMaxImageBytes
	}

	r := gin.New()
	r.Use(requestLogger(), recovery())

	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", internalServiceHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	origins := cfg.HTTP.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	limiter := newRateLimiter(cfg.HTTP.RateLimitPerMinute)

	v1 := r.Group("/api/v1")
	v1.Use(authRequired(cfg.Auth.JWTSecret), limiter.middleware())
	{
		v1.GET("/challenges", h.listChallenges)
		v1.GET("/challenges/:id", h.getChallenge)
		v1.POST("/challenges/:id/participate", h.participate)

		v1.POST("/records/:id/verify", h.verify)
		v1.GET("/records", h.listRecords)

		v1.GET("/points/balance", h.balance)
		v1.GET("/points/transactions", h.transactions)
		v1.GET("/points/stats", h.stats)
		v1.POST("/points/convert", h.convert)

		v1.GET("/images/stats", h.imageStats)
		v1.GET("/teams/:id", h.team)
		v1.GET("/teams/:id/records", h.teamRecords)
	}

	admin := v1.Group("/admin")
	admin.Use(requireRole(models.RoleAdmin))
	{
		admin.GET("/records/needs-review", h.needsReview)
		admin.POST("/records/:id/approve", h.adminApprove)
		admin.POST("/records/:id/reject", h.adminReject)
		admin.GET("/points/balances", h.allBalances)
	}

	internal := r.Group("/internal/v1")
	internal.Use(internalServiceRequired(cfg.Auth.InternalServiceToken))
	{
		internal.POST("/points/earn", h.partnerEarn)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, codeRouteNotFound, "route not found")
	})

	return r
}
