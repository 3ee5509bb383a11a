// Package chunker 将长文本切分为带位置信息的定长重叠分块。
// 切分以词为单位，与向量化成本估算使用同一种计数口径。
package chunker

import (
	"errors"
	"strings"
)

// ErrInvalidChunkParams 表示分块参数非法（overlap >= maxSize 或 maxSize <= 0）。
// 该错误在构造阶段抛出，绝不允许在切分过程中才暴露。
var ErrInvalidChunkParams = errors.New("chunker: overlap must be smaller than max size and max size must be positive")

// ChunkSpec 是一个分块的纯数据描述。
// StartPos/EndPos 是分块覆盖的词位置区间 [StartPos, EndPos)。
type ChunkSpec struct {
	Text       string
	StartPos   int
	EndPos     int
	TokenCount int
}

// Splitter 按固定大小和重叠量切分文本。
// Splitter 是纯函数式的：同样的输入永远产生同样的输出序列。
type Splitter struct {
	maxSize int
	overlap int
}

// NewSplitter 创建一个 Splitter。
// 参数非法时立即返回 ErrInvalidChunkParams，避免切分时死循环。
func NewSplitter(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 || overlap < 0 || overlap >= maxSize {
		return nil, ErrInvalidChunkParams
	}
	return &Splitter{maxSize: maxSize, overlap: overlap}, nil
}

// MaxSize 返回配置的分块大小（词数）。
func (s *Splitter) MaxSize() int { return s.maxSize }

// Overlap 返回配置的重叠量（词数）。
func (s *Splitter) Overlap() int { return s.overlap }

// Split 将文本切分为有序分块序列。
// 文本不超过 maxSize 时只产生一个覆盖全文的分块；纯空白分块被丢弃。
func (s *Splitter) Split(text string) []ChunkSpec {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := s.maxSize - s.overlap
	var chunks []ChunkSpec
	for start := 0; start < len(words); start += step {
		end := start + s.maxSize
		if end > len(words) {
			end = len(words)
		}
		segment := strings.Join(words[start:end], " ")
		if strings.TrimSpace(segment) != "" {
			chunks = append(chunks, ChunkSpec{
				Text:       segment,
				StartPos:   start,
				EndPos:     end,
				TokenCount: end - start,
			})
		}
		if end == len(words) {
			break
		}
	}
	return chunks
}
