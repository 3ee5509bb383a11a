// Package handler 实现 HTTP 接口层，负责参数解析、鉴权上下文读取与响应编码。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"flow-rag-go/internal/middleware"
	"flow-rag-go/internal/service"
	"flow-rag-go/pkg/log"
)

// RetrievalHandler 结构体定义了检索相关的处理器。
type RetrievalHandler struct {
	retrievalService service.RetrievalService
}

// NewRetrievalHandler 创建一个新的 RetrievalHandler 实例。
func NewRetrievalHandler(retrievalService service.RetrievalService) *RetrievalHandler {
	return &RetrievalHandler{
		retrievalService: retrievalService,
	}
}

// retrieveRequest 是检索接口的请求体。
type retrieveRequest struct {
	Query         string  `json:"query" binding:"required"`
	TopK          int     `json:"topK"`
	MinSimilarity float64 `json:"minSimilarity"`
}

// Retrieve 是处理语义检索请求的 Gin 处理函数。
// 基础设施故障返回 503，与"无相关资料"（200 + fallback=no_match）严格区分。
func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[RetrievalHandler] 检索请求参数无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		log.Errorf("[RetrievalHandler] 无法从 Gin 上下文中获取用户标识")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	log.Infof("[RetrievalHandler] 收到检索请求, owner: %s, topK: %d", ownerKey, req.TopK)

	resp, err := h.retrievalService.Retrieve(c.Request.Context(), ownerKey, req.Query, service.RetrieveOptions{
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		log.Errorf("[RetrievalHandler] 检索服务返回错误, error: %v", err)
		if errors.Is(err, service.ErrQueryEmbeddingFailed) || errors.Is(err, service.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索服务暂时不可用，请稍后重试"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	log.Infof("[RetrievalHandler] 检索成功, 返回 %d 条引用, fallback: %s", len(resp.References), resp.Fallback)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": resp, "message": "success"})
}
