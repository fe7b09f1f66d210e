package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/database"
	"dinehub/internal/router"
	"dinehub/internal/services"
	"dinehub/pkg/config"
	"dinehub/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting DineHub order engine...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		if err := database.CloseRedis(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 执行数据库迁移
	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 执行种子数据初始化
	if err := seedData(); err != nil {
		appLogger.Fatalf("Failed to initialize seed data: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 事件中心：进程内分发，多实例部署时通过Redis桥接
	hub := broker.New(cfg.Engine.SubscriberBuffer)
	if cfg.Redis.Enabled {
		bridge := broker.NewRedisBridge(hub, database.GetRedisClient(), cfg.Redis.Prefix)
		if err := bridge.Start(); err != nil {
			appLogger.Errorf("Failed to start Redis event bridge: %v", err)
			// 不影响主服务启动，单实例模式继续运行
		} else {
			defer bridge.Stop()
		}
	}

	// 启动占用状态巡检调度器（在路由初始化前）
	tableService := services.NewTableService(database.GetDB(), hub)
	sweeper := services.NewOccupancySweeper(database.GetDB(), tableService, cfg.Engine.ReconcileCron)
	if err := sweeper.Start(); err != nil {
		appLogger.Errorf("Failed to start occupancy sweeper: %v", err)
		// 不影响主服务启动
	}
	defer sweeper.Stop()

	// 设置路由
	r := router.SetupRouter(hub)

	// 启动服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	if err := server.Close(); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
