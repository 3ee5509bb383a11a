package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"flow-rag-go/internal/middleware"
	"flow-rag-go/internal/model"
	"flow-rag-go/internal/pipeline"
	"flow-rag-go/internal/service"
	"flow-rag-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ProgressHandler 通过 WebSocket 向前端流式推送来源的索引进度。
type ProgressHandler struct {
	hub             *pipeline.ProgressHub
	documentService service.DocumentService
}

// NewProgressHandler 创建一个新的 ProgressHandler。
func NewProgressHandler(hub *pipeline.ProgressHub, documentService service.DocumentService) *ProgressHandler {
	return &ProgressHandler{
		hub:             hub,
		documentService: documentService,
	}
}

// Stream 升级连接并持续推送指定来源的进度事件。
// 来源到达终态（indexed/failed）或客户端断开时结束。
func (h *ProgressHandler) Stream(c *gin.Context) {
	ownerKey, ok := middleware.OwnerKey(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}
	sourceID := c.Param("sourceId")

	// 先校验归属：不能订阅别人来源的进度。
	status, err := h.documentService.Status(c.Request.Context(), ownerKey, sourceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "来源不存在"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("进度 WebSocket 连接已建立, owner: %s, source: %s", ownerKey, sourceID)

	events, cancel := h.hub.Subscribe(sourceID)
	defer cancel()

	// 先推一帧当前状态，订阅建立前的进度不丢失首帧。
	if err := conn.WriteJSON(pipeline.ProgressEvent{SourceID: sourceID, Stage: status}); err != nil {
		return
	}
	if isTerminalStage(status) {
		return
	}

	// 读泵只用于感知客户端断开。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Warnf("推送进度事件失败: %v", err)
				return
			}
			if isTerminalStage(event.Stage) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// isTerminalStage 判断状态是否为索引流程的终态。
func isTerminalStage(stage string) bool {
	return stage == model.SourceStatusIndexed || stage == model.SourceStatusFailed
}
