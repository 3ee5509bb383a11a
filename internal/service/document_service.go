package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"flow-rag-go/internal/config"
	"flow-rag-go/internal/identity"
	"flow-rag-go/internal/model"
	"flow-rag-go/internal/repository"
	"flow-rag-go/internal/store"
	"flow-rag-go/pkg/kafka"
	"flow-rag-go/pkg/log"
	"flow-rag-go/pkg/storage"
	"flow-rag-go/pkg/tasks"
)

// SourceDetailDTO 是单个来源的详情响应，附带对象的临时下载地址。
type SourceDetailDTO struct {
	model.Source
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// DocumentService 接口定义了来源文档的管理操作。
type DocumentService interface {
	Upload(ctx context.Context, rawOwnerID, sourceName string, file io.Reader, size int64, contentType string) (*model.Source, error)
	List(rawOwnerID string) ([]model.Source, error)
	Get(rawOwnerID, sourceID string) (*SourceDetailDTO, error)
	Status(ctx context.Context, rawOwnerID, sourceID string) (string, error)
	Delete(ctx context.Context, rawOwnerID, sourceID string) error
}

type documentService struct {
	sourceRepo repository.SourceRepository
	chunkRepo  repository.ChunkRepository
	chunkStore store.ChunkStore
	minioCfg   config.MinIOConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	sourceRepo repository.SourceRepository,
	chunkRepo repository.ChunkRepository,
	chunkStore store.ChunkStore,
	minioCfg config.MinIOConfig,
) DocumentService {
	return &documentService{
		sourceRepo: sourceRepo,
		chunkRepo:  chunkRepo,
		chunkStore: chunkStore,
		minioCfg:   minioCfg,
	}
}

// Upload 接收来源文档：写入对象存储、注册来源记录、投递索引任务。
// source_id 由 (ownerKey, sourceName) 确定，重复上传同名文档覆盖旧来源。
func (s *documentService) Upload(ctx context.Context, rawOwnerID, sourceName string, file io.Reader, size int64, contentType string) (*model.Source, error) {
	ownerKey := identity.Normalize(rawOwnerID)
	sourceID := deriveSourceID(ownerKey, sourceName)
	objectName := fmt.Sprintf("%s/%s%s", ownerKey, sourceID, filepath.Ext(sourceName))

	log.Infof("[DocumentService] 开始上传来源, owner: %s, source: %s, name: %s", ownerKey, sourceID, sourceName)

	// 1. 文件写入对象存储
	log.Info("[DocumentService] 步骤1: 写入对象存储")
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, file, size, contentType); err != nil {
		log.Errorf("[DocumentService] 写入对象存储失败: %v", err)
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	// 2. 注册来源记录
	log.Info("[DocumentService] 步骤2: 注册来源记录")
	source := &model.Source{
		SourceID:   sourceID,
		OwnerKey:   ownerKey,
		SourceName: sourceName,
		ObjectName: objectName,
		Status:     model.SourceStatusPending,
	}
	if err := s.sourceRepo.Create(source); err != nil {
		log.Errorf("[DocumentService] 注册来源记录失败: %v", err)
		return nil, fmt.Errorf("注册来源记录失败: %w", err)
	}

	// 3. 投递索引任务
	log.Info("[DocumentService] 步骤3: 投递索引任务到 Kafka")
	task := tasks.IndexTask{
		SourceID:   sourceID,
		OwnerKey:   ownerKey,
		SourceName: sourceName,
		ObjectName: objectName,
	}
	if err := kafka.ProduceIndexTask(task); err != nil {
		log.Errorf("[DocumentService] 投递索引任务失败: %v", err)
		// 任务投递失败时标记来源失败，调用方可以重新上传触发重试。
		_ = s.sourceRepo.UpdateStatus(ctx, ownerKey, sourceID, model.SourceStatusFailed, "投递索引任务失败")
		return nil, fmt.Errorf("投递索引任务失败: %w", err)
	}

	log.Infof("[DocumentService] 来源上传完成, source: %s", sourceID)
	return source, nil
}

// List 列出调用方的全部来源。
func (s *documentService) List(rawOwnerID string) ([]model.Source, error) {
	return s.sourceRepo.ListByOwner(identity.Normalize(rawOwnerID))
}

// Get 返回来源详情，并为原始文件生成临时下载地址。
func (s *documentService) Get(rawOwnerID, sourceID string) (*SourceDetailDTO, error) {
	ownerKey := identity.Normalize(rawOwnerID)
	source, err := s.sourceRepo.GetByID(ownerKey, sourceID)
	if err != nil {
		return nil, err
	}

	detail := &SourceDetailDTO{Source: *source}
	if source.ObjectName != "" {
		url, err := storage.GetPresignedURL(s.minioCfg.BucketName, source.ObjectName, 15*time.Minute)
		if err != nil {
			// 下载地址生成失败不阻塞详情查询。
			log.Warnf("[DocumentService] 生成下载地址失败, source: %s: %v", sourceID, err)
		} else {
			detail.DownloadURL = url
		}
	}
	return detail, nil
}

// Status 查询来源的索引状态，优先命中 Redis 缓存。
func (s *documentService) Status(ctx context.Context, rawOwnerID, sourceID string) (string, error) {
	ownerKey := identity.Normalize(rawOwnerID)
	if status, ok := s.sourceRepo.GetCachedStatus(ctx, ownerKey, sourceID); ok {
		return status, nil
	}
	source, err := s.sourceRepo.GetByID(ownerKey, sourceID)
	if err != nil {
		return "", err
	}
	return source.Status, nil
}

// Delete 删除来源的全部痕迹：向量存储、暂存分块、对象存储、来源记录。
func (s *documentService) Delete(ctx context.Context, rawOwnerID, sourceID string) error {
	ownerKey := identity.Normalize(rawOwnerID)
	log.Infof("[DocumentService] 开始删除来源, owner: %s, source: %s", ownerKey, sourceID)

	source, err := s.sourceRepo.GetByID(ownerKey, sourceID)
	if err != nil {
		return err
	}

	// 1. 删除向量存储中的分块
	log.Info("[DocumentService] 步骤1: 删除向量存储分块")
	if err := s.chunkStore.DeleteSource(ctx, ownerKey, sourceID); err != nil {
		log.Errorf("[DocumentService] 删除向量存储分块失败: %v", err)
		return fmt.Errorf("删除向量存储分块失败: %w", err)
	}

	// 2. 删除数据库暂存分块
	log.Info("[DocumentService] 步骤2: 删除暂存分块")
	if err := s.chunkRepo.DeleteBySource(ownerKey, sourceID); err != nil {
		log.Errorf("[DocumentService] 删除暂存分块失败: %v", err)
		return fmt.Errorf("删除暂存分块失败: %w", err)
	}

	// 3. 删除对象存储中的原始文件
	if source.ObjectName != "" {
		log.Info("[DocumentService] 步骤3: 删除对象存储原始文件")
		if err := storage.RemoveObject(ctx, s.minioCfg.BucketName, source.ObjectName); err != nil {
			// 对象删除失败只告警，来源记录仍然移除，避免悬挂的来源列表项。
			log.Warnf("[DocumentService] 删除对象存储文件失败, object: %s: %v", source.ObjectName, err)
		}
	}

	// 4. 删除来源记录
	log.Info("[DocumentService] 步骤4: 删除来源记录")
	if err := s.sourceRepo.Delete(ownerKey, sourceID); err != nil {
		return err
	}

	log.Infof("[DocumentService] 来源删除完成, source: %s", sourceID)
	return nil
}

// deriveSourceID 由 (ownerKey, sourceName) 派生确定性的来源 ID。
func deriveSourceID(ownerKey, sourceName string) string {
	sum := sha256.Sum256([]byte(ownerKey + "/" + sourceName))
	return hex.EncodeToString(sum[:])[:16]
}
