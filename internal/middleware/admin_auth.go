// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"flow-rag-go/internal/config"
)

// AdminAuthMiddleware 校验管理接口的 API Key。
// 配置中只保存 Key 的 bcrypt 哈希，请求头携带明文 Key 做比对。
func AdminAuthMiddleware(cfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKeyHash == "" {
			// 未配置管理凭证时关闭管理接口，而不是放行。
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理接口未启用"})
			return
		}

		apiKey := c.GetHeader("X-Admin-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含管理密钥"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(cfg.APIKeyHash), []byte(apiKey)); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理密钥无效"})
			return
		}

		c.Next()
	}
}
