package model

// FallbackKind 标识一次检索在无合格结果时应采用的兜底叙述。
type FallbackKind string

const (
	// FallbackNone 表示存在合格引用，无需兜底。
	FallbackNone FallbackKind = "none"
	// FallbackLowConfidence 表示只有低于展示阈值的近似结果，
	// 生成层应说明相关性有限并给出人工联系渠道。
	FallbackLowConfidence FallbackKind = "low_confidence"
	// FallbackNoMatch 表示没有任何候选越过召回水位线，
	// 生成层应说明知识库中无相关资料。
	FallbackNoMatch FallbackKind = "no_match"
)

// Reference 定义了返回给调用方（生成层）的引用结构。
// Similarity 是查询向量与分块向量的真实余弦相似度，禁止任何形式的占位分数。
type Reference struct {
	ID         int     `json:"id"`
	SourceID   string  `json:"sourceId"`
	SourceName string  `json:"sourceName"`
	ChunkIndex int     `json:"chunkIndex"`
	// ChunkCount 是该来源被合并的合格分块数（按来源去重后保留最高分分块）。
	ChunkCount int     `json:"chunkCount"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
	FullText   string  `json:"fullText"`
}

// RetrieveResponseDTO 定义了检索接口返回给调用方的响应结构。
type RetrieveResponseDTO struct {
	References []Reference  `json:"references"`
	Fallback   FallbackKind `json:"fallback"`
}
