package middleware

import (
	"crypto/subtle"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/util"
	"elevenplus_backend/pkg/logger"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		// 管理员拥有全部权限
		hasRole := user.Role == model.Admin
		for _, role := range roles {
			if user.Role == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CronTokenOrAdmin 内部接口：定时任务携带 X-Cron-Token，或管理员 JWT
func CronTokenOrAdmin(cronToken, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cronToken != "" {
			got := c.GetHeader(util.CronTokenHeader)
			if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(cronToken)) == 1 {
				c.Set("cron", true)
				c.Next()
				return
			}
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}
		claims, err := util.ParseJWT(tokenString, secret)
		if err != nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}
		if claims.Role != model.Admin {
			util.Forbidden(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}
