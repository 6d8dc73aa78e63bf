package http_api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/core-coin/hashrent/internal/metrics"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	// ServiceTokenHeader carries the shared secret of trusted callers
	// (payment processor, auth service).
	ServiceTokenHeader = "X-Service-Token"

	actorKey   = "actor"
	serviceKey = "service"

	maxLimitedClients = 10000
)

// Claims are the access token claims issued by the auth service.
type Claims struct {
	UserID  uint `json:"user_id"`
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
		"Authorization", "Accept", "Cache-Control", "X-Requested-With", ServiceTokenHeader,
	}
	corsConfig.MaxAge = 12 * time.Hour
	return cors.New(corsConfig)
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimitedClients {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "rate_limited",
				"error":   "too many requests",
			})
			return
		}
		c.Next()
	}
}

// parseToken verifies an HS256 access token and returns its claims.
func parseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("invalid access token")
	}
	return claims, nil
}

func (s *HTTPServer) validServiceToken(c *gin.Context) bool {
	token := c.GetHeader(ServiceTokenHeader)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.config.ServiceToken)) == 1
}

func (s *HTTPServer) bearerActor(c *gin.Context) (models.Actor, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return models.Actor{}, false
	}
	claims, err := parseToken(s.config.JWTSecret, parts[1])
	if err != nil {
		s.logger.Debug("Rejected access token", "error", err)
		return models.Actor{}, false
	}
	return models.Actor{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, true
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"code":    "unauthorized",
		"error":   message,
	})
}

// authMiddleware requires a valid access token and stores the caller as the actor.
func (s *HTTPServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.bearerActor(c)
		if !ok {
			unauthorized(c, "invalid or missing access token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// adminMiddleware must run after authMiddleware.
func (s *HTTPServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).IsAdmin {
			s.respondError(c, models.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// serviceMiddleware admits only trusted internal callers.
func (s *HTTPServer) serviceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.validServiceToken(c) {
			unauthorized(c, "invalid or missing service token")
			return
		}
		c.Set(serviceKey, true)
		c.Next()
	}
}

// serviceOrAdminMiddleware admits trusted callers and admins.
func (s *HTTPServer) serviceOrAdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validServiceToken(c) {
			c.Set(serviceKey, true)
			c.Next()
			return
		}
		actor, ok := s.bearerActor(c)
		if !ok {
			unauthorized(c, "invalid or missing credentials")
			return
		}
		if !actor.IsAdmin {
			s.respondError(c, models.ErrForbidden)
			c.Abort()
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}
