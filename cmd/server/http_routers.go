package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/httpapi"
)

//
// 数据模型定义
//

// UnifiedResponse 统一的 API 响应格式
type UnifiedResponse struct {
	Code int         `json:"code"`
	Data interface{} `json:"data,omitempty"`
	Msg  string      `json:"msg"`
}

//
// 辅助函数 - 响应处理
//

// sendSuccessResponse 发送成功响应
func sendSuccessResponse(context *gin.Context, data interface{}) {
	context.JSON(http.StatusOK, UnifiedResponse{
		Code: http.StatusOK,
		Data: data,
		Msg:  "success",
	})
}

//
// 中间件
//

// corsMiddleware 跨域资源共享中间件
// 允许所有来源访问,便于前端开发和集成
// 生产环境建议根据需求配置白名单
func corsMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		context.Header("Access-Control-Allow-Origin", "*")
		context.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		context.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if context.Request.Method == "OPTIONS" {
			context.AbortWithStatus(http.StatusNoContent)
			return
		}

		context.Next()
	}
}

//
// 路由构建主函数
//

// BuildGinRouter 构建 Gin 路由器
// 集中管理所有 HTTP 路由:事件入口、订阅管理、分发结果查询
func BuildGinRouter(app *AppContext) *gin.Engine {
	router := gin.Default()

	// 应用全局中间件
	router.Use(corsMiddleware())

	// API v1 路由组
	apiV1 := router.Group("/v1")
	{
		registerEventRoutes(apiV1, app)
		registerSubscriptionRoutes(apiV1, app)
		registerDispatchRoutes(apiV1, app)
	}

	registerHealthRoutes(router)

	return router
}

// registerEventRoutes 注册变更事件路由
func registerEventRoutes(group *gin.RouterGroup, app *AppContext) {
	eventsHandler := httpapi.NewEventsHandler(app.Pipeline, app.Enqueuer)
	group.POST("/events", gin.WrapF(eventsHandler.HandleEvent))
}

// registerSubscriptionRoutes 注册订阅管理路由
func registerSubscriptionRoutes(group *gin.RouterGroup, app *AppContext) {
	subscriptionsHandler := httpapi.NewSubscriptionsHandler(app.Subscriptions)

	group.POST("/subscriptions", gin.WrapF(subscriptionsHandler.HandleSubscribe))
	group.GET("/subscriptions", gin.WrapF(subscriptionsHandler.HandleList))
	group.DELETE("/subscriptions", gin.WrapF(subscriptionsHandler.HandleUnsubscribe))
}

// registerDispatchRoutes 注册分发结果路由
func registerDispatchRoutes(group *gin.RouterGroup, app *AppContext) {
	recordsHandler := httpapi.NewDispatchRecordsHandler(app.DispatchLog)

	group.GET("/dispatches", gin.WrapF(recordsHandler.HandleQuery))
	group.GET("/dispatches/stats", gin.WrapF(recordsHandler.HandleStats))
}

// registerHealthRoutes 注册健康检查路由
func registerHealthRoutes(router *gin.Engine) {
	router.GET("/healthz", func(context *gin.Context) {
		sendSuccessResponse(context, map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
}
