package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"flow-rag-go/internal/middleware"
	"flow-rag-go/internal/repository"
	"flow-rag-go/internal/service"
	"flow-rag-go/pkg/log"
)

// DocumentHandler 结构体定义了来源文档管理相关的处理器。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
	}
}

// Upload 接收 multipart 上传的来源文档并触发异步索引。
func (h *DocumentHandler) Upload(c *gin.Context) {
	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		log.Warnf("[DocumentHandler] 上传请求缺少文件: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求未包含文件"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[DocumentHandler] 打开上传文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	log.Infof("[DocumentHandler] 收到上传请求, owner: %s, file: %s, size: %d", ownerKey, fileHeader.Filename, fileHeader.Size)

	source, err := h.documentService.Upload(
		c.Request.Context(),
		ownerKey,
		fileHeader.Filename,
		file,
		fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
	)
	if err != nil {
		log.Errorf("[DocumentHandler] 上传来源失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": source, "message": "accepted"})
}

// List 列出调用方的全部来源。
func (h *DocumentHandler) List(c *gin.Context) {
	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sources, err := h.documentService.List(ownerKey)
	if err != nil {
		log.Errorf("[DocumentHandler] 列出来源失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": sources, "message": "success"})
}

// Get 返回单个来源的详情与临时下载地址。
func (h *DocumentHandler) Get(c *gin.Context) {
	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	detail, err := h.documentService.Get(ownerKey, c.Param("sourceId"))
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "来源不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 查询来源详情失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": detail, "message": "success"})
}

// Status 查询来源的索引状态。
func (h *DocumentHandler) Status(c *gin.Context) {
	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	status, err := h.documentService.Status(c.Request.Context(), ownerKey, c.Param("sourceId"))
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "来源不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 查询来源状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"status": status}, "message": "success"})
}

// Delete 删除来源及其全部索引数据。
func (h *DocumentHandler) Delete(c *gin.Context) {
	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sourceID := c.Param("sourceId")
	log.Infof("[DocumentHandler] 收到删除请求, owner: %s, source: %s", ownerKey, sourceID)

	if err := h.documentService.Delete(c.Request.Context(), ownerKey, sourceID); err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "来源不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 删除来源失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}
