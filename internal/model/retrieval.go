package model

// SourceMatch 是按来源去重后的一个检索候选。
// Chunk 是该来源相似度最高的代表分块，ChunkCount 是被合并的同源候选数。
type SourceMatch struct {
	Chunk      ChunkRecord
	Similarity float64
	ChunkCount int
}

// EngineOutput 是检索引擎的产出，交给引用构建器做展示映射。
// Qualified 与 NearMiss 均按相似度降序排列，且两者互斥：
// 达到展示阈值的进 Qualified，低于阈值但高于召回水位线的进 NearMiss。
type EngineOutput struct {
	Qualified     []SourceMatch
	NearMiss      []SourceMatch
	QueryVector   []float32
	ThresholdUsed float64
}
