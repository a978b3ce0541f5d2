// Package middleware 提供 HTTP 中间件
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

const (
	// UserIDHeader 网关注入的用户标识头
	UserIDHeader = "X-User-ID"

	// UserIDKey Gin Context 中的用户标识键
	UserIDKey = "user_id"
)

// Identity 用户身份中间件
// 认证由前置网关完成，这里只接收并校验它注入的用户标识
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    errors.CodeUnauthorized,
				"message": "missing user identity",
			})
			return
		}
		if _, err := uuid.Parse(userID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    errors.CodeUnauthorized,
				"message": "invalid user identity",
			})
			return
		}

		c.Set(UserIDKey, userID)

		ctx := logger.WithContext(c.Request.Context(), logger.UserIDKey, userID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CurrentUserID 取当前请求的用户标识
func CurrentUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
