// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"flow-rag-go/internal/identity"
	"flow-rag-go/pkg/token"
)

// ContextKeyOwner 是存入 Gin 上下文的 ownerKey 键名。
const ContextKeyOwner = "ownerKey"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它从请求头中提取 token，验证有效性，并把账号 ID 的假名化哈希存入上下文。
// 原始账号 ID 在这里完成哈希后即被丢弃，后续链路只见到 ownerKey。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供，提取出 token 本身
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}
		if claims.AccountID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token 缺少账号标识"})
			return
		}

		c.Set(ContextKeyOwner, identity.HashOwnerID(claims.AccountID))
		c.Next()
	}
}

// OwnerKey 从 Gin 上下文中取出认证中间件写入的 ownerKey。
func OwnerKey(c *gin.Context) (string, bool) {
	value, exists := c.Get(ContextKeyOwner)
	if !exists {
		return "", false
	}
	ownerKey, ok := value.(string)
	return ownerKey, ok
}
