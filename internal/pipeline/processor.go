// Package pipeline 定义了来源索引的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"flow-rag-go/internal/chunker"
	"flow-rag-go/internal/config"
	"flow-rag-go/internal/model"
	"flow-rag-go/internal/repository"
	"flow-rag-go/internal/store"
	"flow-rag-go/pkg/embedding"
	"flow-rag-go/pkg/extract"
	"flow-rag-go/pkg/log"
	"flow-rag-go/pkg/storage"
	"flow-rag-go/pkg/tasks"
)

// previewMaxLen 是 text_preview 字段保留的最大 rune 数。
const previewMaxLen = 200

// Processor 封装了来源索引的所有依赖和逻辑。
type Processor struct {
	extractClient   *extract.Client
	embeddingClient embedding.Client
	chunkStore      store.ChunkStore
	chunkRepo       repository.ChunkRepository
	sourceRepo      repository.SourceRepository
	hub             *ProgressHub
	splitter        *chunker.Splitter
	minioCfg        config.MinIOConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractClient *extract.Client,
	embeddingClient embedding.Client,
	chunkStore store.ChunkStore,
	chunkRepo repository.ChunkRepository,
	sourceRepo repository.SourceRepository,
	hub *ProgressHub,
	splitter *chunker.Splitter,
	minioCfg config.MinIOConfig,
) *Processor {
	return &Processor{
		extractClient:   extractClient,
		embeddingClient: embeddingClient,
		chunkStore:      chunkStore,
		chunkRepo:       chunkRepo,
		sourceRepo:      sourceRepo,
		hub:             hub,
		splitter:        splitter,
		minioCfg:        minioCfg,
	}
}

// Process 是来源索引的主函数：下载 → 提取 → 分块 → 落库 → 向量化 → 写入向量存储。
func (p *Processor) Process(ctx context.Context, task tasks.IndexTask) error {
	log.Infof("[Processor] 开始处理来源, SourceID: %s, Name: %s, Owner: %s", task.SourceID, task.SourceName, task.OwnerKey)

	// 1. 从 MinIO 下载来源文件
	p.setStage(ctx, task, model.SourceStatusExtracting, 0)
	log.Infof("[Processor] 步骤1: 从MinIO下载文件, Bucket: %s, Object: %s", p.minioCfg.BucketName, task.ObjectName)
	object, err := storage.GetObject(ctx, p.minioCfg.BucketName, task.ObjectName)
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("从 MinIO 下载文件失败: %w", err))
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("读取MinIO对象流失败: %w", err))
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", size)
	if size == 0 {
		return p.fail(ctx, task, errors.New("文件内容为空"))
	}

	// 2. 提取纯文本
	log.Info("[Processor] 步骤2: 提取文本内容")
	textContent, err := p.extractClient.ExtractText(bytes.NewReader(buf.Bytes()), task.SourceName)
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("提取文本失败: %w", err))
	}
	if textContent == "" {
		return p.fail(ctx, task, errors.New("提取的文本内容为空"))
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 3. 文本分块
	p.setStage(ctx, task, model.SourceStatusChunking, 0)
	log.Info("[Processor] 步骤3: 进行文本分块")
	specs := p.splitter.Split(textContent)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(specs))
	if len(specs) == 0 {
		return p.fail(ctx, task, errors.New("未生成任何文本分块"))
	}

	// 阶段一：分块文本先落库，向量化失败后可直接回放，无需重新提取。
	log.Info("[Processor] 阶段一: 将分块文本存入数据库")
	dbChunks := make([]model.DocumentChunk, 0, len(specs))
	for i, spec := range specs {
		dbChunks = append(dbChunks, model.DocumentChunk{
			OwnerKey:   task.OwnerKey,
			SourceID:   task.SourceID,
			ChunkIndex: i,
			Text:       spec.Text,
			StartPos:   spec.StartPos,
			EndPos:     spec.EndPos,
			TokenCount: spec.TokenCount,
		})
	}
	if err := p.chunkRepo.ReplaceForSource(task.OwnerKey, task.SourceID, dbChunks); err != nil {
		return p.fail(ctx, task, fmt.Errorf("批量保存文本分块失败: %w", err))
	}
	log.Infof("[Processor] 阶段一: 成功将 %d 个分块存入数据库", len(dbChunks))

	// 阶段二：批量向量化。结果按分块序号归位，任何一条失败整批终止。
	p.setStage(ctx, task, model.SourceStatusEmbedding, len(specs))
	log.Info("[Processor] 阶段二: 步骤4: 批量向量化分块")
	texts := make([]string, len(specs))
	for i, spec := range specs {
		texts[i] = spec.Text
	}
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		return p.fail(ctx, task, fmt.Errorf("分块向量化失败: %w", err))
	}
	log.Infof("[Processor] 步骤4: 向量化完成, 共 %d 个向量", len(vectors))

	// 5. 构建分块记录并整来源替换写入向量存储
	log.Info("[Processor] 步骤5: 写入向量存储")
	now := time.Now()
	records := make([]model.ChunkRecord, 0, len(specs))
	totalTokens := 0
	for i, spec := range specs {
		totalTokens += spec.TokenCount
		records = append(records, model.ChunkRecord{
			// chunk_id 由 (source_id, chunk_index) 确定，重复索引覆盖而非追加。
			ChunkID:     fmt.Sprintf("%s_%d", task.SourceID, i),
			SourceID:    task.SourceID,
			OwnerKey:    task.OwnerKey,
			ChunkIndex:  i,
			TextPreview: preview(spec.Text),
			FullText:    spec.Text,
			Embedding:   vectors[i],
			TokenCount:  spec.TokenCount,
			Metadata: model.ChunkMetadata{
				StartPos:   spec.StartPos,
				EndPos:     spec.EndPos,
				TokenCount: spec.TokenCount,
			},
			CreatedAt: now,
		})
	}
	if _, err := p.chunkStore.UpsertChunks(ctx, task.OwnerKey, task.SourceID, records); err != nil {
		return p.fail(ctx, task, fmt.Errorf("写入向量存储失败: %w", err))
	}

	// 6. 回填统计并标记完成
	if err := p.sourceRepo.UpdateCounts(task.OwnerKey, task.SourceID, len(records), totalTokens); err != nil {
		log.Warnf("[Processor] 回填来源统计失败: %v", err)
	}
	p.setStage(ctx, task, model.SourceStatusIndexed, len(records))

	log.Infof("[Processor] 来源索引成功完成, SourceID: %s, 分块数: %d", task.SourceID, len(records))
	return nil
}

// setStage 更新来源状态并广播进度事件。
func (p *Processor) setStage(ctx context.Context, task tasks.IndexTask, status string, chunkCount int) {
	if err := p.sourceRepo.UpdateStatus(ctx, task.OwnerKey, task.SourceID, status, ""); err != nil {
		log.Warnf("[Processor] 更新来源状态失败, source: %s, status: %s: %v", task.SourceID, status, err)
	}
	p.hub.Publish(ProgressEvent{SourceID: task.SourceID, Stage: status, ChunkCount: chunkCount})
}

// fail 将来源标记为失败，广播事件并返回原始错误。
func (p *Processor) fail(ctx context.Context, task tasks.IndexTask, cause error) error {
	log.Errorf("[Processor] 来源索引失败, SourceID: %s, Error: %v", task.SourceID, cause)
	if err := p.sourceRepo.UpdateStatus(ctx, task.OwnerKey, task.SourceID, model.SourceStatusFailed, cause.Error()); err != nil {
		log.Warnf("[Processor] 标记来源失败状态时出错: %v", err)
	}
	p.hub.Publish(ProgressEvent{SourceID: task.SourceID, Stage: model.SourceStatusFailed, Error: cause.Error()})
	return cause
}

// preview 截取分块文本的前缀作为 text_preview。
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewMaxLen {
		return text
	}
	return string(runes[:previewMaxLen])
}
