// Package service 实现业务逻辑层，组织 repository、存储与外部客户端完成具体用例。
package service

import (
	"context"
	"errors"
	"fmt"

	"flow-rag-go/internal/config"
	"flow-rag-go/internal/identity"
	"flow-rag-go/internal/model"
	"flow-rag-go/internal/reference"
	"flow-rag-go/internal/repository"
	"flow-rag-go/internal/store"
	"flow-rag-go/pkg/embedding"
	"flow-rag-go/pkg/log"
)

// 检索请求的终态错误。二者都表示基础设施故障，
// 调用方必须将其与"无相关资料"（FallbackNoMatch）区分开来呈现。
var (
	// ErrQueryEmbeddingFailed 表示查询向量化失败，检索终止。
	// 绝不降级为关键词搜索，也绝不伪造相似度分数。
	ErrQueryEmbeddingFailed = errors.New("retrieval: query embedding failed")
	// ErrStoreUnavailable 表示向量存储不可用，检索终止。
	ErrStoreUnavailable = errors.New("retrieval: chunk store unavailable")
)

// RetrieveOptions 是单次检索的调用方参数，零值字段回落到配置默认值。
type RetrieveOptions struct {
	TopK          int
	MinSimilarity float64
}

// RetrievalService 接口定义了检索操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, rawOwnerID, query string, opts RetrieveOptions) (*model.RetrieveResponseDTO, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	chunkStore      store.ChunkStore
	sourceRepo      repository.SourceRepository
	builder         *reference.Builder
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
// sourceRepo 可以为 nil，此时引用的来源名称退化为 source_id。
func NewRetrievalService(
	embeddingClient embedding.Client,
	chunkStore store.ChunkStore,
	sourceRepo repository.SourceRepository,
	cfg config.RetrievalConfig,
) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		chunkStore:      chunkStore,
		sourceRepo:      sourceRepo,
		builder:         reference.NewBuilder(cfg.SnippetMaxLen),
		cfg:             cfg,
	}
}

// Retrieve 执行一次完整的语义检索：
// 向量化查询 → 按召回水位线取候选 → 展示阈值分区 → 按来源去重 → 构建引用。
func (s *retrievalService) Retrieve(ctx context.Context, rawOwnerID, query string, opts RetrieveOptions) (*model.RetrieveResponseDTO, error) {
	ownerKey := identity.Normalize(rawOwnerID)
	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	minSimilarity := opts.MinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = s.cfg.DefaultMinSimilarity
	}

	log.Infof("[RetrievalService] 开始检索, owner: %s, topK: %d, minSimilarity: %.2f", ownerKey, topK, minSimilarity)

	// 1. 向量化查询。失败即终止，不做任何降级。
	log.Info("[RetrievalService] 步骤1: 向量化查询文本")
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 查询向量化失败: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrQueryEmbeddingFailed, err)
	}

	// 2. 以召回水位线取候选。水位线只为限制候选集大小，不是展示阈值。
	// 多取候选以保证按来源合并后仍能凑满 topK。
	log.Info("[RetrievalService] 步骤2: 从向量存储获取候选分块")
	candidates, err := s.chunkStore.QueryBySimilarity(ctx, ownerKey, queryVector, s.cfg.RecallFloor, topK*4)
	if err != nil {
		log.Errorf("[RetrievalService] 向量存储查询失败: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	log.Infof("[RetrievalService] 步骤2: 获取到 %d 个候选", len(candidates))

	// 3. 按展示阈值分区，再按来源去重。
	log.Info("[RetrievalService] 步骤3: 阈值分区与来源去重")
	qualified, nearMiss := partition(candidates, minSimilarity)
	qualified = dedupBySource(qualified)
	nearMiss = dedupBySource(nearMiss)
	if len(qualified) > topK {
		qualified = qualified[:topK]
	}
	if len(nearMiss) > topK {
		nearMiss = nearMiss[:topK]
	}
	log.Infof("[RetrievalService] 步骤3: 合格 %d 个, 近似 %d 个", len(qualified), len(nearMiss))

	// 4. 构建引用并回填来源名称。
	log.Info("[RetrievalService] 步骤4: 构建引用列表")
	resp := s.builder.Build(model.EngineOutput{
		Qualified:     qualified,
		NearMiss:      nearMiss,
		QueryVector:   queryVector,
		ThresholdUsed: minSimilarity,
	})
	s.fillSourceNames(ownerKey, resp.References)

	log.Infof("[RetrievalService] 检索完成, 引用 %d 条, fallback: %s", len(resp.References), resp.Fallback)
	return &resp, nil
}

// partition 将候选按展示阈值切成合格与近似两组。
// 候选由存储层保证按相似度降序，分区保持原有顺序。
func partition(candidates []model.ScoredChunk, minSimilarity float64) (qualified, nearMiss []model.SourceMatch) {
	for _, c := range candidates {
		m := model.SourceMatch{Chunk: c.Chunk, Similarity: c.Similarity, ChunkCount: 1}
		if c.Similarity >= minSimilarity {
			qualified = append(qualified, m)
		} else {
			nearMiss = append(nearMiss, m)
		}
	}
	return qualified, nearMiss
}

// dedupBySource 按 sourceID 去重，保留每个来源相似度最高的分块，
// ChunkCount 记录被合并的同源候选数。输入降序时首个出现的即最高分。
func dedupBySource(matches []model.SourceMatch) []model.SourceMatch {
	if len(matches) == 0 {
		return matches
	}
	seen := make(map[string]int, len(matches))
	deduped := make([]model.SourceMatch, 0, len(matches))
	for _, m := range matches {
		if idx, ok := seen[m.Chunk.SourceID]; ok {
			deduped[idx].ChunkCount++
			continue
		}
		seen[m.Chunk.SourceID] = len(deduped)
		deduped = append(deduped, m)
	}
	return deduped
}

// fillSourceNames 从来源注册表批量回填引用的展示名称。
// 注册表缺失或查询失败时保留 source_id 作为名称，不影响检索结果。
func (s *retrievalService) fillSourceNames(ownerKey string, refs []model.Reference) {
	if s.sourceRepo == nil || len(refs) == 0 {
		return
	}
	sources, err := s.sourceRepo.ListByOwner(ownerKey)
	if err != nil {
		log.Warnf("[RetrievalService] 回填来源名称失败: %v", err)
		return
	}
	names := make(map[string]string, len(sources))
	for _, src := range sources {
		names[src.SourceID] = src.SourceName
	}
	for i := range refs {
		if name, ok := names[refs[i].SourceID]; ok && name != "" {
			refs[i].SourceName = name
		}
	}
}
