package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinav/clinav/api/handler"
	"github.com/clinav/clinav/internal/service"
	"github.com/clinav/clinav/pkg/logger"
)

// Version 服务版本
const Version = "1.0.0"

// SetupRouter 设置路由，history 为空时历史接口返回 503
func SetupRouter(manager *service.Manager, history handler.HistoryStore, mode string) *gin.Engine {
	// 设置Gin模式
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	// 添加中间件
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	deviceHandler := handler.NewDeviceHandler(manager)
	workerHandler := handler.NewWorkerHandler(manager)
	historyHandler := handler.NewHistoryHandler(manager, history)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "clinav",
			"version": Version,
			"status":  "running",
		})
	})

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthHandler(manager, history))

		devices := v1.Group("/devices")
		{
			devices.GET("", deviceHandler.ListDevices)
			devices.POST("/connect", deviceHandler.ConnectAll)
			devices.GET("/:name", deviceHandler.GetDevice)
			devices.POST("/:name/connect", deviceHandler.Connect)
			devices.POST("/:name/logout", deviceHandler.Logout)
			devices.POST("/:name/reconnect", deviceHandler.Reconnect)
			devices.POST("/:name/commands", deviceHandler.RunCommand)
			devices.POST("/:name/mode", deviceHandler.Mode)
			devices.POST("/:name/actions/:action", deviceHandler.Action)
			devices.GET("/:name/history", historyHandler.History)

			devices.POST("/:name/workers", workerHandler.StartWorker)
			devices.GET("/:name/workers/:id", workerHandler.GetWorker)
			devices.DELETE("/:name/workers/:id", workerHandler.StopWorker)
		}
	}

	// 404处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// storeHealth 历史存储可选实现的健康检查
type storeHealth interface {
	Health() error
	Stats() map[string]interface{}
}

// healthHandler 历史存储启用时同时报告数据库连接状态，不可用返回 503
func healthHandler(manager *service.Manager, history handler.HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := gin.H{"devices": len(manager.Names())}
		if hs, ok := history.(storeHealth); ok {
			if err := hs.Health(); err != nil {
				logger.WithField("error", err.Error()).Warn("history database health check failed")
				c.JSON(http.StatusServiceUnavailable, handler.ErrorResponse{
					Code:    "DATABASE_UNAVAILABLE",
					Message: "数据库不可用: " + err.Error(),
				})
				return
			}
			data["database"] = hs.Stats()
		}
		c.JSON(http.StatusOK, handler.SuccessResponse{
			Code:    "SUCCESS",
			Message: "服务正常",
			Data:    data,
		})
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		// 如果是错误状态码，记录错误日志
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("HTTP Error")
			return
		}
		entry.Info("HTTP Request")
	}
}
