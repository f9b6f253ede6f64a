// Package main 是应用程序的入口点。
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"plagcheck-go/internal/config"
	"plagcheck-go/internal/handler"
	"plagcheck-go/internal/middleware"
	"plagcheck-go/internal/model"
	"plagcheck-go/internal/pipeline"
	"plagcheck-go/internal/repository"
	"plagcheck-go/internal/retrieval"
	"plagcheck-go/internal/service"
	"plagcheck-go/internal/similarity"
	"plagcheck-go/pkg/database"
	"plagcheck-go/pkg/embedding"
	"plagcheck-go/pkg/es"
	"plagcheck-go/pkg/kafka"
	"plagcheck-go/pkg/llm"
	"plagcheck-go/pkg/log"
	"plagcheck-go/pkg/storage"
	"plagcheck-go/pkg/tika"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// seedLibraryName 是 initfile 目录导入的目标文档库。
const seedLibraryName = "内置文档库"

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL)
	database.InitRedis(cfg.Database.Redis)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewMinIOStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}

	// 未配置 Elasticsearch 时 index 保持 nil 接口，检索退化为词法粗筛
	var (
		vectorIndex retrieval.VectorIndex
		indexWriter service.VectorIndexWriter
	)
	if cfg.Elasticsearch.Addresses != "" {
		idx, err := es.NewVectorIndex(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			log.Errorf("es 初始化失败, 文档库检索将使用词法粗筛: %v", err)
		} else {
			vectorIndex, indexWriter = idx, idx
		}
	}

	// 4. 初始化 Repository
	batchRepo := repository.NewBatchRepository(database.DB)
	documentRepo := repository.NewDocumentRepository(database.DB)
	comparisonRepo := repository.NewComparisonRepository(database.DB)
	libraryRepo := repository.NewLibraryRepository(database.DB)
	batchLock := repository.NewBatchLock(database.RDB)

	// 5. 初始化检测引擎与外部服务
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	cachedEmbedder := embedding.NewCachedClient(embeddingClient, database.RDB, embeddingClient.Model(), embeddingClient.Dimensions(), cfg.Embedding.CacheTTL)
	detector := llm.NewDetector(cfg.AI)

	engine, err := similarity.NewEngine(similarity.Options{
		ChunkSize:    cfg.Detection.ChunkSize,
		ChunkOverlap: cfg.Detection.ChunkOverlap,
		TextAccept:   cfg.Detection.TextAccept,
		VectorAccept: cfg.Detection.VectorAccept,
	}, cachedEmbedder)
	if err != nil {
		log.Fatal("比对引擎初始化失败", err)
	}
	retriever := retrieval.NewRetriever(engine, documentRepo, libraryRepo, vectorIndex, retrieval.Options{
		BatchMinScore:   cfg.Detection.BatchMinScore,
		LibraryMinScore: cfg.Detection.LibraryMinScore,
		CandidatePool:   cfg.Detection.CandidatePool,
		PrefixRunes:     cfg.Detection.PrefixRunes,
	})

	// 6. 初始化 Service (依赖注入)
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	batchService := service.NewBatchService(batchRepo, documentRepo, comparisonRepo, libraryRepo, store, tikaClient, producer)
	libraryService := service.NewLibraryService(libraryRepo, store, tikaClient, engine, indexWriter, embeddingClient.Model())
	detectionService := service.NewDetectionService(engine, detector)

	// 7. 初始化批次编排器并启动后台 Kafka 消费者
	orchestrator := pipeline.NewOrchestrator(batchRepo, documentRepo, comparisonRepo, batchLock, retriever, engine, detector, pipeline.Options{
		DocumentConcurrency: cfg.Detection.DocumentConcurrency,
		TopK:                cfg.Detection.TopK,
		BatchTimeout:        cfg.Worker.BatchTimeout,
		LockTTL:             cfg.Worker.LockTTL,
	})
	go kafka.StartConsumers(rootCtx, cfg.Kafka, cfg.Worker, database.RDB, orchestrator)

	// 7.1 导入 initfile 目录到内置文档库，已导入的文件按内容哈希跳过
	go seedLibrary(rootCtx, "initfile", libraryRepo, libraryService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	analysisHandler := handler.NewAnalysisHandler(batchService)
	libraryHandler := handler.NewLibraryHandler(libraryService)
	detectionHandler := handler.NewDetectionHandler(detectionService)

	apiV1 := r.Group("/api/v1")
	apiV1.GET("/ai-detection/health", detectionHandler.Health)

	authed := apiV1.Group("/")
	authed.Use(middleware.Identity())
	{
		authed.POST("/analyze", analysisHandler.Analyze)
		authed.GET("/batches", analysisHandler.ListBatches)
		authed.GET("/batches/:id/results", analysisHandler.Results)

		authed.POST("/compare", detectionHandler.Compare)
		authed.POST("/ai-detection", detectionHandler.DetectAI)

		libraries := authed.Group("/libraries")
		{
			libraries.GET("", libraryHandler.List)
			libraries.POST("", libraryHandler.Create)
			libraries.GET("/:id", libraryHandler.Get)
			libraries.DELETE("/:id", libraryHandler.Deactivate)
			libraries.POST("/:id/documents", libraryHandler.AddDocuments)
			libraries.DELETE("/:id/documents/:docId", libraryHandler.DeleteDocument)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 停止消费者；正在处理的批次会回到 queued，由下一次投递重试
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// seedLibrary 扫描目录下的文件并通过标准流程加入内置文档库（幂等）。
func seedLibrary(ctx context.Context, dir string, libraryRepo repository.LibraryRepository, librarySvc service.LibraryService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedLibrary: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	lib, err := findOrCreateSeedLibrary(ctx, libraryRepo, librarySvc)
	if err != nil {
		log.Warnf("seedLibrary: 准备内置文档库失败: %v", err)
		return
	}
	existing, err := libraryRepo.ListDocuments(ctx, lib.ID)
	if err != nil {
		log.Warnf("seedLibrary: 读取已有文档失败: %v", err)
		return
	}
	known := make(map[string]bool, len(existing))
	for _, d := range existing {
		known[d.ContentHash] = true
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("seedLibrary: 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		if len(data) == 0 {
			log.Infof("seedLibrary: 空文件跳过: %s", path)
			return nil
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if known[hash] {
			log.Infof("seedLibrary: 已存在，跳过: %s", info.Name())
			return nil
		}
		if _, err := librarySvc.AddDocument(ctx, lib.ID, lib.OwnerID, service.UploadedFile{Name: info.Name(), Data: data}); err != nil {
			log.Warnf("seedLibrary: 导入失败: %s, err=%v", path, err)
			return nil
		}
		known[hash] = true
		log.Infof("seedLibrary: 导入完成: %s", info.Name())
		return nil
	})
	if walkErr != nil {
		log.Warnf("seedLibrary: 遍历目录发生错误: %v", walkErr)
	}
}

func findOrCreateSeedLibrary(ctx context.Context, libraryRepo repository.LibraryRepository, librarySvc service.LibraryService) (*model.DocumentLibrary, error) {
	libs, err := libraryRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range libs {
		if libs[i].Name == seedLibraryName {
			return &libs[i], nil
		}
	}
	return librarySvc.Create(ctx, "system", seedLibraryName, "initfile 目录中的参考文档")
}
