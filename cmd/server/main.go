// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"flow-rag-go/internal/chunker"
	"flow-rag-go/internal/config"
	"flow-rag-go/internal/handler"
	"flow-rag-go/internal/middleware"
	"flow-rag-go/internal/model"
	"flow-rag-go/internal/pipeline"
	"flow-rag-go/internal/repository"
	"flow-rag-go/internal/service"
	"flow-rag-go/internal/store"
	"flow-rag-go/pkg/database"
	"flow-rag-go/pkg/embedding"
	"flow-rag-go/pkg/es"
	"flow-rag-go/pkg/extract"
	"flow-rag-go/pkg/kafka"
	"flow-rag-go/pkg/log"
	"flow-rag-go/pkg/storage"
	"flow-rag-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.Source{}, &model.DocumentChunk{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化分块向量存储
	chunkStore := buildChunkStore(cfg)

	// 5. 初始化 Repository
	sourceRepo := repository.NewSourceRepository(database.DB, database.RDB)
	chunkRepo := repository.NewChunkRepository(database.DB)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	extractClient := extract.NewClient(cfg.Extract)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	splitter, err := chunker.NewSplitter(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	if err != nil {
		log.Fatalf("分块参数非法: %v", err)
	}
	retrievalService := service.NewRetrievalService(embeddingClient, chunkStore, sourceRepo, cfg.Retrieval)
	documentService := service.NewDocumentService(sourceRepo, chunkRepo, chunkStore, cfg.MinIO)

	// 7. 初始化索引流水线 (Processor) 与进度中心
	hub := pipeline.NewProgressHub()
	processor := pipeline.NewProcessor(
		extractClient,
		embeddingClient,
		chunkStore,
		chunkRepo,
		sourceRepo,
		hub,
		splitter,
		cfg.MinIO,
	)

	// 8. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// 检索路由，需要认证
		retrieve := apiV1.Group("/retrieve")
		retrieve.Use(middleware.AuthMiddleware(jwtManager))
		{
			retrieve.POST("", handler.NewRetrievalHandler(retrievalService).Retrieve)
		}

		// 来源管理路由，需要认证
		sources := apiV1.Group("/sources")
		sources.Use(middleware.AuthMiddleware(jwtManager))
		{
			docHandler := handler.NewDocumentHandler(documentService)
			sources.POST("", docHandler.Upload)
			sources.GET("", docHandler.List)
			sources.GET("/:sourceId", docHandler.Get)
			sources.GET("/:sourceId/status", docHandler.Status)
			sources.DELETE("/:sourceId", docHandler.Delete)
		}

		// 管理路由，由管理密钥保护
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(cfg.Admin))
		{
			admin.POST("/tokens", handler.NewAdminHandler(jwtManager).IssueToken)
		}
	}

	// 索引进度 WebSocket 路由，需要认证
	progress := r.Group("/ws")
	progress.Use(middleware.AuthMiddleware(jwtManager))
	{
		progress.GET("/index-progress/:sourceId", handler.NewProgressHandler(hub, documentService).Stream)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// buildChunkStore 根据配置选择向量存储实现。
// memory 驱动只在本地联调时使用，数据不落盘。
func buildChunkStore(cfg config.Config) store.ChunkStore {
	switch cfg.Store.Driver {
	case "memory":
		log.Warnf("使用内存向量存储，进程退出后数据丢失")
		return store.NewMemoryStore(cfg.Embedding.Dimensions)
	default:
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			log.Fatalf("es 初始化失败: %v", err)
		}
		return store.NewESStore(es.ESClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
	}
}
