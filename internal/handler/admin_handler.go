package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"flow-rag-go/pkg/log"
	"flow-rag-go/pkg/token"
)

// AdminHandler 结构体定义了管理接口的处理器。
type AdminHandler struct {
	jwtManager *token.JWTManager
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(jwtManager *token.JWTManager) *AdminHandler {
	return &AdminHandler{jwtManager: jwtManager}
}

// issueTokenRequest 是签发访问令牌的请求体。
type issueTokenRequest struct {
	AccountID string `json:"accountId" binding:"required"`
}

// IssueToken 为指定账号签发访问令牌。
// 该接口由管理密钥保护，供上游服务为终端用户换取检索凭证。
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	accessToken, err := h.jwtManager.GenerateToken(req.AccountID)
	if err != nil {
		log.Errorf("[AdminHandler] 签发访问令牌失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "签发令牌失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"accessToken": accessToken}, "message": "success"})
}
