// Package reference 将检索引擎的产出映射为面向调用方的引用列表。
// 纯映射，不做任何 I/O，也不修改相似度数值。
package reference

import (
	"flow-rag-go/internal/model"
)

// Builder 按配置把 EngineOutput 转换为展示契约。
type Builder struct {
	// snippetMaxLen 是引用摘要的最大 rune 数。
	snippetMaxLen int
}

// NewBuilder 创建一个引用构建器。snippetMaxLen 非正时不截断。
func NewBuilder(snippetMaxLen int) *Builder {
	return &Builder{snippetMaxLen: snippetMaxLen}
}

// Build 生成引用列表与兜底类型。
//
// 合格结果存在时逐条生成引用，序号 1..N 按相似度降序；
// 只有近似结果时同样生成引用（携带真实相似度），但标记 low_confidence，
// 由生成层负责说明相关性有限；两者皆空时不生成任何引用，标记 no_match。
func (b *Builder) Build(output model.EngineOutput) model.RetrieveResponseDTO {
	switch {
	case len(output.Qualified) > 0:
		return model.RetrieveResponseDTO{
			References: b.toReferences(output.Qualified),
			Fallback:   model.FallbackNone,
		}
	case len(output.NearMiss) > 0:
		return model.RetrieveResponseDTO{
			References: b.toReferences(output.NearMiss),
			Fallback:   model.FallbackLowConfidence,
		}
	default:
		return model.RetrieveResponseDTO{
			References: []model.Reference{},
			Fallback:   model.FallbackNoMatch,
		}
	}
}

func (b *Builder) toReferences(matches []model.SourceMatch) []model.Reference {
	refs := make([]model.Reference, 0, len(matches))
	for i, match := range matches {
		refs = append(refs, model.Reference{
			ID:         i + 1,
			SourceID:   match.Chunk.SourceID,
			SourceName: sourceName(match.Chunk),
			ChunkIndex: match.Chunk.ChunkIndex,
			ChunkCount: match.ChunkCount,
			Similarity: match.Similarity,
			Snippet:    b.snippet(match.Chunk),
			FullText:   match.Chunk.FullText,
		})
	}
	return refs
}

// snippet 返回分块文本的有界摘要，按 rune 截断避免切断多字节字符。
func (b *Builder) snippet(chunk model.ChunkRecord) string {
	text := chunk.TextPreview
	if text == "" {
		text = chunk.FullText
	}
	if b.snippetMaxLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= b.snippetMaxLen {
		return text
	}
	return string(runes[:b.snippetMaxLen]) + "…"
}

// sourceName 的展示名默认取 source_id，服务层从来源注册表回填真实名称。
func sourceName(chunk model.ChunkRecord) string {
	return chunk.SourceID
}
