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

	"docvec-go/internal/chunker"
	"docvec-go/internal/config"
	"docvec-go/internal/handler"
	"docvec-go/internal/middleware"
	"docvec-go/internal/pipeline"
	"docvec-go/internal/repository"
	"docvec-go/internal/service"
	"docvec-go/internal/syncjob"
	"docvec-go/internal/txn"
	"docvec-go/pkg/database"
	"docvec-go/pkg/embedding"
	"docvec-go/pkg/es"
	"docvec-go/pkg/kafka"
	"docvec-go/pkg/log"
	"docvec-go/pkg/storage"
	"docvec-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与向量索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	objectStore := storage.NewMinioStore(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	esClient := es.NewClient(es.ESClient, cfg.Elasticsearch, cfg.Batch)
	if err := esClient.EnsureIndex(context.Background()); err != nil {
		log.Errorf("向量索引初始化失败: %v", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 全局分块默认值来自配置
	chunker.SetDefaultOptions(chunker.Options{
		Strategy:        cfg.Chunking.Strategy,
		MaxChunkSize:    cfg.Chunking.MaxChunkSize,
		Overlap:         cfg.Chunking.Overlap,
		MaxHeadingDepth: cfg.Chunking.MaxHeadingDepth,
		PreferHeadings:  true,
	})

	// 4. 初始化 Repository
	collectionRepo := repository.NewCollectionRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	jobRepo := repository.NewSyncJobRepository(database.DB)
	cascadeRepo := repository.NewCascadeRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	policy := syncjob.Policy{
		MaxRetries:  cfg.Sync.MaxRetries,
		BackoffBase: time.Duration(cfg.Sync.RetryBackoffSeconds) * time.Second,
		BackoffCap:  time.Duration(cfg.Sync.RetryBackoffCapSeconds) * time.Second,
	}
	if policy.MaxRetries <= 0 {
		policy = syncjob.DefaultPolicy()
	}

	coordinator := txn.NewCoordinator(cascadeRepo, esClient,
		time.Duration(cfg.Sync.TxnRetentionMinutes)*time.Minute)
	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	coordinator.StartJanitor(janitorCtx, 5*time.Minute)

	collectionService := service.NewCollectionService(collectionRepo, docRepo, coordinator)
	documentService := service.NewDocumentService(collectionRepo, docRepo, jobRepo, objectStore, coordinator,
		time.Duration(cfg.Sync.ResyncLockExpireSeconds)*time.Second)
	searchService := service.NewSearchService(embeddingClient, esClient, collectionRepo, docRepo)
	jobService := service.NewSyncJobService(jobRepo)

	// 6. 初始化文档索引管道 (Processor)
	processor := pipeline.NewProcessor(
		embeddingClient,
		esClient,
		objectStore,
		cfg.Chunking,
		cfg.Embedding,
		policy,
		collectionRepo,
		docRepo,
		chunkRepo,
		jobRepo,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, policy.MaxRetries, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	collectionHandler := handler.NewCollectionHandler(collectionService)
	documentHandler := handler.NewDocumentHandler(documentService)
	searchHandler := handler.NewSearchHandler(searchService)
	jobHandler := handler.NewSyncJobHandler(jobService, jwtManager)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		// Collection 路由组
		collections := apiV1.Group("/collections")
		{
			collections.POST("", collectionHandler.Create)
			collections.GET("", collectionHandler.List)
			collections.GET("/:id", collectionHandler.Get)
			collections.PUT("/:id/status", collectionHandler.UpdateStatus)
			collections.DELETE("/:id", collectionHandler.Delete)
		}

		// Document 路由组
		documents := apiV1.Group("/documents")
		{
			documents.POST("/import", documentHandler.Import)
			documents.GET("", documentHandler.ListByCollection)
			documents.GET("/:id", documentHandler.Get)
			documents.POST("/:id/resync", documentHandler.Resync)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		// Search 路由组
		search := apiV1.Group("/search")
		{
			search.GET("", searchHandler.Search)
		}

		// SyncJob 路由组
		jobs := apiV1.Group("/jobs")
		{
			jobs.GET("", jobHandler.List)
			jobs.GET("/stats", jobHandler.Stats)
			jobs.GET("/by-doc", jobHandler.GetByDoc)
			jobs.GET("/:id", jobHandler.Get)
			jobs.GET("/:id/stream-token", jobHandler.StreamToken)
		}
	}

	// 任务进度推送 (WebSocket)，token 经路径参数认证
	r.GET("/ws/jobs/:id/:token", jobHandler.Stream)

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

	// Kafka 消费者是一个循环，会在进程退出时自然结束，
	// 如需更精细的控制可以在 StartConsumer 中实现一个关闭通道。
	log.Info("服务已优雅关闭")
}
