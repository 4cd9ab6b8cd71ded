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

	"chat-relay-go/internal/config"
	"chat-relay-go/internal/handler"
	"chat-relay-go/internal/middleware"
	"chat-relay-go/internal/repository"
	"chat-relay-go/internal/service"
	"chat-relay-go/pkg/database"
	"chat-relay-go/pkg/kafka"
	"chat-relay-go/pkg/llm"
	"chat-relay-go/pkg/log"

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

	// 3. 初始化会话存储
	conversationRepo, closeStore := openConversationStore(cfg.Database)
	defer closeStore()

	// 4. 可选的 Redis 限流
	var rateLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		rdb, err := database.NewRedis(context.Background(), cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer rdb.Close()
		rateLimit = middleware.RateLimit(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		log.Infof("已启用限流: 每 %s 最多 %d 次请求", cfg.RateLimit.Window, cfg.RateLimit.Requests)
	}

	// 5. 初始化 Kafka 生产者与上游客户端
	publisher := kafka.NewPublisher(cfg.Kafka)
	llmClient := llm.NewClient(cfg.LLM)
	if !llmClient.Configured() {
		log.Warnf("未配置上游 API Key，对话请求将返回错误")
	}

	// 6. 初始化 Service (依赖注入)
	chatService := service.NewChatService(conversationRepo, llmClient, publisher)
	conversationService := service.NewConversationService(conversationRepo)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	handler.RegisterRoutes(r, handler.RouteDeps{
		ChatService:         chatService,
		ConversationService: conversationService,
		LLMClient:           llmClient,
		RateLimit:           rateLimit,
		DebugDelayMS:        cfg.Server.DebugDelayMS,
		StaticDir:           cfg.Server.StaticDir,
	})

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

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 关闭 HTTP 服务器，等待进行中的流结束
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// openConversationStore 按驱动选择存储实现，返回的函数用于释放连接。
func openConversationStore(cfg config.DatabaseConfig) (repository.ConversationRepository, func()) {
	if cfg.Driver == "postgres" {
		if err := database.RunMigrations(cfg.DSN); err != nil {
			log.Fatal("数据库迁移失败", err)
		}
		pool, err := database.NewPool(context.Background(), cfg.DSN)
		if err != nil {
			log.Fatal("PostgreSQL 初始化失败", err)
		}
		return repository.NewPostgresConversationRepository(pool), pool.Close
	}

	db, err := database.OpenGorm(cfg.Driver, cfg.DSN)
	if err != nil {
		log.Fatal("数据库初始化失败", err)
	}
	return repository.NewConversationRepository(db), func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
