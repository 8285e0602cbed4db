package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/article-chat/pkg/auth"
	"github.com/thereayou/article-chat/pkg/log"
)

const UserIDKey = log.FieldUserID

// Blacklist отозванные токены
type Blacklist interface {
	Revoked(ctx context.Context, token string) (bool, error)
}

// RedisBlacklist ключи blacklist:<token>, которые кладет сервис аутентификации при logout
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (b *RedisBlacklist) Revoked(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AuthMiddleware проверяет JWT из заголовка или ?token= и кладет subject в контекст.
// blacklist может быть nil
func AuthMiddleware(jwtManager *auth.JWTManager, blacklist Blacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrMissingToken) {
				msg = "missing token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		if blacklist != nil {
			revoked, err := blacklist.Revoked(c.Request.Context(), token)
			if err != nil {
				logger := log.Ctx(c.Request.Context())
				logger.Error().Err(err).Msg("blacklist lookup failed")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "auth temporarily unavailable"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is blacklisted"})
				return
			}
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, claims.Subject)
		logger := log.Ctx(c.Request.Context()).With().Str(log.FieldUserID, claims.Subject).Logger()
		c.Request = c.Request.WithContext(log.WithLogger(c.Request.Context(), logger))
		c.Next()
	}
}

// UserID subject, положенный AuthMiddleware
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
