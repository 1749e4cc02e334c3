package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

const (
	// DefaultTokenTTL is the lifetime of tokens minted by GenerateJWT
	DefaultTokenTTL = 24 * time.Hour

	// RoleAdmin satisfies every role check
	RoleAdmin = "admin"

	tokenIssuer  = "churnwatch"
	principalKey = "principal"
)

// ErrNoSecret is returned when minting a token without a configured secret
var ErrNoSecret = errors.New("jwt secret is not configured")

// Claims are the JWT claims churnwatch signs and accepts
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Principal is the caller an authenticated request acts as.
type Principal struct {
	Name  string
	Roles []string
	// Via is "jwt" or "api_key"
	Via string
}

func (p Principal) hasAnyRole(roles ...string) bool {
	if slices.Contains(p.Roles, RoleAdmin) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

type apiKey struct {
	name     string
	roles    []string
	lastUsed time.Time
}

// AuthMiddleware authenticates bearer JWTs and X-API-Key headers.
type AuthMiddleware struct {
	secret []byte
	logger *logger.Logger

	mu   sync.Mutex
	keys map[string]*apiKey
}

// NewAuthMiddleware creates an authenticator. An empty secret disables JWTs.
func NewAuthMiddleware(secret string, logger *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		logger: logger,
		keys:   make(map[string]*apiKey),
	}
}

// AddAPIKey registers key under name with roles
func (a *AuthMiddleware) AddAPIKey(key, name string, roles []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = &apiKey{name: name, roles: roles}
}

// Authenticate rejects requests without valid credentials with 401.
func (a *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := a.principal(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireRole rejects authenticated callers lacking every listed role with 403.
func (a *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(principalKey)
		p, _ := v.(Principal)
		if !ok || !p.hasAnyRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// principal tries the bearer token first, then the API key.
func (a *AuthMiddleware) principal(r *http.Request) (Principal, bool) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		claims, err := a.parseToken(token)
		if err == nil {
			return Principal{Name: claims.Username, Roles: claims.Roles, Via: "jwt"}, true
		}
		a.logger.Debug("rejected bearer token", zap.Error(err))
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		a.mu.Lock()
		defer a.mu.Unlock()
		if k, ok := a.keys[key]; ok {
			k.lastUsed = time.Now()
			return Principal{Name: k.name, Roles: k.roles, Via: "api_key"}, true
		}
		a.logger.Debug("rejected api key", zap.String("key", redact(key)))
	}

	return Principal{}, false
}

func (a *AuthMiddleware) parseToken(raw string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrNoSecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "..."
}

// GenerateJWT signs a token for username valid for ttl (DefaultTokenTTL when zero)
func (a *AuthMiddleware) GenerateJWT(username string, roles []string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(a.secret)
}

// rateLimiter is a sliding one-minute window per client IP.
type rateLimiter struct {
	limit int

	mu   sync.Mutex
	hits map[string][]time.Time
}

func (l *rateLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	recent := l.hits[ip][:0]
	for _, t := range l.hits[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.hits[ip] = recent
		return false
	}
	l.hits[ip] = append(recent, now)
	return true
}

// RateLimiter allows requestsPerMinute per client IP and answers 429 beyond it.
func RateLimiter(requestsPerMinute int) gin.HandlerFunc {
	l := &rateLimiter{limit: requestsPerMinute, hits: make(map[string][]time.Time)}

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
