package router

import (
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/database"
	"dinehub/internal/handlers"
	"dinehub/internal/middleware"
	"dinehub/internal/models"
	"dinehub/internal/services"
	"dinehub/pkg/config"
	"dinehub/pkg/response"

	"github.com/gin-gonic/gin"
)

// SetupRouter 设置路由
func SetupRouter(hub *broker.Broker) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	// 注册路由
	registerRoutes(router, hub)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, hub *broker.Broker) {
	db := database.GetDB()
	cfg := config.GetConfig()

	userService := services.NewUserService(db)
	scopeService := services.NewScopeService(db)
	ownerService := services.NewOwnerService(db)
	tableService := services.NewTableService(db, hub)
	orderService := services.NewOrderService(db, hub, tableService, cfg.Engine.DedupWindow)
	paymentService := services.NewPaymentService(db, orderService)

	auth := middleware.NewAuthMiddleware(userService)

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// 认证路由（登录无需认证）
		authHandler := handlers.NewAuthHandler(userService)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.RefreshToken)
			authGroup.GET("/me", auth.RequireLogin(), authHandler.Me)
		}

		// 门店管理（平台管理员）
		ownerHandler := handlers.NewOwnerHandler(ownerService, userService)
		owners := api.Group("/owners")
		{
			owners.POST("", auth.RequireLogin(), auth.RequirePlatformAdmin(), ownerHandler.Create)
			owners.GET("", auth.RequireLogin(), auth.RequirePlatformAdmin(), ownerHandler.GetAll)
			owners.POST("/:id/deactivate", auth.RequireLogin(), auth.RequirePlatformAdmin(), ownerHandler.Deactivate)
			owners.POST("/:id/staff", auth.RequireLogin(), auth.RequirePlatformAdmin(), ownerHandler.CreateStaff)
		}

		// 餐桌路由
		tableHandler := handlers.NewTableHandler(tableService, scopeService)
		tables := api.Group("/tables")
		{
			tables.POST("", auth.RequireLogin(), auth.RequireRole(models.RoleAdministrator, models.RoleOwner), tableHandler.Create)
			tables.GET("", auth.RequireLogin(), auth.RequireStaff(), tableHandler.GetAll)
			tables.POST("/:table_id/reconcile", auth.RequireLogin(), auth.RequireStaff(), tableHandler.Reconcile)
		}

		// 订单路由
		orderHandler := handlers.NewOrderHandler(orderService, scopeService)
		orders := api.Group("/orders")
		{
			// 下单：顾客和员工均可
			orders.POST("", auth.RequireLogin(), orderHandler.Place)
			orders.GET("", auth.RequireLogin(), auth.RequireStaff(), orderHandler.GetAll)
			orders.GET("/:order_id", auth.RequireLogin(), orderHandler.GetByID)
			orders.PUT("/:order_id/status", auth.RequireLogin(), auth.RequireStaff(), orderHandler.Transition)
			orders.POST("/:order_id/cancel", auth.RequireLogin(), orderHandler.Cancel)
		}
		// 顾客按订单号跟踪
		api.GET("/track/:order_no", auth.RequireLogin(), orderHandler.Track)

		// 收款路由（收银员/店主/平台管理员）
		paymentHandler := handlers.NewPaymentHandler(paymentService, orderService, scopeService)
		cashier := auth.RequireRole(models.RoleAdministrator, models.RoleOwner, models.RoleCashier)
		{
			api.POST("/orders/:order_id/payments", auth.RequireLogin(), cashier, paymentHandler.Record)
			api.GET("/orders/:order_id/payments", auth.RequireLogin(), auth.RequireStaff(), paymentHandler.ListByOrder)
			api.PUT("/orders/:order_id/payment-status", auth.RequireLogin(), cashier, paymentHandler.UpdateStatus)
			api.POST("/payments/:payment_id/void", auth.RequireLogin(), cashier, paymentHandler.Void)
		}

		// 实时事件流（token在查询参数中校验）
		streamHandler := handlers.NewStreamHandler(hub, userService, orderService, scopeService)
		ws := api.Group("/ws")
		{
			ws.GET("/restaurants/:owner_id", streamHandler.RestaurantStream)
			ws.GET("/orders/:order_id", streamHandler.OrderStream)
		}
	}
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "DineHub",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
