package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"flow-rag-go/internal/model"
	"flow-rag-go/pkg/log"
)

// ESStore 是 ChunkStore 的 Elasticsearch 实现。
// 相似度排序由 script_score 的 cosineSimilarity 在服务端完成，
// 客户端不对分数做任何伪造或占位处理。
type ESStore struct {
	client    *elasticsearch.Client
	indexName string
	dims      int

	// sourceLocks 按 (ownerKey, sourceID) 串行化整来源替换，
	// 避免 delete_by_query 与 bulk 写入交错产生新旧混杂状态。
	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

// NewESStore 创建一个基于已初始化 ES 客户端的存储。
func NewESStore(client *elasticsearch.Client, indexName string, dims int) *ESStore {
	return &ESStore{
		client:      client,
		indexName:   indexName,
		dims:        dims,
		sourceLocks: make(map[string]*sync.Mutex),
	}
}

func (s *ESStore) lockSource(ownerKey, sourceID string) *sync.Mutex {
	key := ownerKey + "/" + sourceID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sourceLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.sourceLocks[key] = l
	}
	return l
}

// UpsertChunks 整体替换 (ownerKey, sourceID) 下的分块集合。
// 先删除旧分块再批量写入新分块，整个过程持有来源级锁，
// 写入完成后强制 refresh，保证后续查询立即可见。
func (s *ESStore) UpsertChunks(ctx context.Context, ownerKey, sourceID string, chunks []model.ChunkRecord) (int, error) {
	for i, chunk := range chunks {
		if len(chunk.Embedding) != s.dims {
			return 0, fmt.Errorf("%w: chunk %d has %d dims, index expects %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), s.dims)
		}
	}

	l := s.lockSource(ownerKey, sourceID)
	l.Lock()
	defer l.Unlock()

	log.Infof("[ESStore] 步骤1: 删除来源旧分块, owner: %s, source: %s", ownerKey, sourceID)
	if err := s.deleteByOwnerSource(ctx, ownerKey, sourceID); err != nil {
		return 0, err
	}

	if len(chunks) == 0 {
		return 0, nil
	}

	log.Infof("[ESStore] 步骤2: 批量写入 %d 个分块", len(chunks))
	var buf bytes.Buffer
	for _, chunk := range chunks {
		meta := map[string]any{"index": map[string]any{"_id": chunk.ChunkID}}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		docBytes, err := json.Marshal(chunk)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal chunk document: %w", err)
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Index:   s.indexName,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		log.Errorf("[ESStore] 批量写入请求失败: %v", err)
		return 0, fmt.Errorf("%w: bulk request failed: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ESStore] 批量写入返回错误: %s", res.String())
		return 0, fmt.Errorf("%w: bulk request returned %s", ErrUnavailable, res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Error  any    `json:"error"`
			ID     string `json:"_id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return 0, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Status >= 300 {
					log.Errorf("[ESStore] 分块 %s 写入失败, status: %d, error: %v", op.ID, op.Status, op.Error)
				}
			}
		}
		return 0, fmt.Errorf("%w: bulk request had item failures", ErrUnavailable)
	}

	log.Infof("[ESStore] 步骤3: 来源替换完成, 共 %d 个分块", len(chunks))
	return len(chunks), nil
}

// QueryBySimilarity 在 owner_key 过滤范围内执行 script_score 余弦检索。
//
// ES 要求 min_score 为正数，而余弦相似度取值范围是 [-1, 1]，
// 因此脚本统一加 1.0 平移到 [0, 2]，解析结果时再减回去。
func (s *ESStore) QueryBySimilarity(ctx context.Context, ownerKey string, queryVector []float32, minSimilarity float64, limit int) ([]model.ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	esQuery := map[string]any{
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{
					"bool": map[string]any{
						"filter": []map[string]any{
							{"term": map[string]any{"owner_key": ownerKey}},
						},
					},
				},
				"script": map[string]any{
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]any{
						"query_vector": queryVector,
					},
				},
			},
		},
		"min_score": minSimilarity + 1.0,
		"size":      limit,
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			map[string]any{"source_id": map[string]any{"order": "asc"}},
			map[string]any{"chunk_index": map[string]any{"order": "asc"}},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ESStore] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("%w: search request failed: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ESStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("%w: search returned %s", ErrUnavailable, res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.ChunkRecord `json:"_source"`
				Score  float64           `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ScoredChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ScoredChunk{
			Chunk:      hit.Source,
			Similarity: hit.Score - 1.0,
		})
	}
	return results, nil
}

// DeleteSource 删除 (ownerKey, sourceID) 下的全部分块。来源不存在时静默成功。
func (s *ESStore) DeleteSource(ctx context.Context, ownerKey, sourceID string) error {
	l := s.lockSource(ownerKey, sourceID)
	l.Lock()
	defer l.Unlock()
	return s.deleteByOwnerSource(ctx, ownerKey, sourceID)
}

func (s *ESStore) deleteByOwnerSource(ctx context.Context, ownerKey, sourceID string) error {
	query := fmt.Sprintf(`{
		"query": {
			"bool": {
				"filter": [
					{"term": {"owner_key": %q}},
					{"term": {"source_id": %q}}
				]
			}
		}
	}`, ownerKey, sourceID)

	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		strings.NewReader(query),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		log.Errorf("[ESStore] delete_by_query 请求失败: %v", err)
		return fmt.Errorf("%w: delete_by_query failed: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ESStore] delete_by_query 返回错误: %s", res.String())
		return fmt.Errorf("%w: delete_by_query returned %s", ErrUnavailable, res.Status())
	}
	return nil
}
