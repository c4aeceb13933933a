package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/jwt"
	"github.com/qs3c/entitlement_server/internal/pkg/response"
)

const (
	ActorKey     = "actor"
	APIKeyHeader = "X-API-Key"
)

// UserLookup 按 ID 读取用户，角色以数据库为准
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// KeyAuthenticator 校验 API Key
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, plain string) (*model.Actor, error)
}

// Auth 认证中间件：Bearer JWT 或 X-API-Key，成功后写入 model.Actor
func Auth(jwtSecret string, users UserLookup, keys KeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" && keys != nil {
			actor, err := keys.Authenticate(c.Request.Context(), key)
			if err != nil {
				response.Fail(c, err)
				c.Abort()
				return
			}
			c.Set(ActorKey, actor)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "missing credentials")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "invalid or expired token")
			c.Abort()
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				response.AuthError(c, "unknown user")
			} else {
				_ = c.Error(err)
				response.ServerError(c, "")
			}
			c.Abort()
			return
		}

		role, err := model.ParseRole(string(user.Role))
		if err != nil {
			response.PermissionError(c, "unknown role")
			c.Abort()
			return
		}

		c.Set(ActorKey, &model.Actor{UserID: user.ID, Role: role})
		c.Next()
	}
}

// RequireAdmin 只允许管理员，必须放在 Auth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}
		if !actor.IsAdmin() {
			response.PermissionError(c, "administrator role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetActor 从上下文获取调用方
func GetActor(c *gin.Context) (*model.Actor, bool) {
	v, exists := c.Get(ActorKey)
	if !exists {
		return nil, false
	}
	actor, ok := v.(*model.Actor)
	return actor, ok && actor != nil
}
