// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"github.com/gin-gonic/gin"
	"net/http"
	"strings"
)

// UserIDKey 是 Gin 上下文中保存调用方用户 ID 的键。
const UserIDKey = "userID"

// UserIDHeader 由前置网关在认证通过后注入。
const UserIDHeader = "X-User-ID"

// Identity 从请求头读取用户 ID 并存入上下文，缺失时返回 401。
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "缺少用户身份",
			})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}
