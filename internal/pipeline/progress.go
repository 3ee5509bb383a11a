package pipeline

import (
	"sync"
)

// ProgressEvent 是索引流水线对外广播的进度事件。
type ProgressEvent struct {
	SourceID   string `json:"sourceId"`
	Stage      string `json:"stage"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProgressHub 在流水线与 WebSocket 订阅者之间转发进度事件。
// 订阅按 sourceID 粒度，一个来源可以有多个并发订阅者。
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressEvent]struct{}
}

// NewProgressHub 创建一个新的进度转发中心。
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string]map[chan ProgressEvent]struct{})}
}

// Subscribe 订阅指定来源的进度事件，返回事件通道和取消函数。
// 取消函数幂等，重复调用安全。
func (h *ProgressHub) Subscribe(sourceID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	h.mu.Lock()
	set, ok := h.subs[sourceID]
	if !ok {
		set = make(map[chan ProgressEvent]struct{})
		h.subs[sourceID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[sourceID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, sourceID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish 向来源的所有订阅者广播事件。
// 订阅者消费过慢时丢弃事件而非阻塞流水线。
func (h *ProgressHub) Publish(event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.SourceID] {
		select {
		case ch <- event:
		default:
		}
	}
}
