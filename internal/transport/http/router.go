package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/client/internal/config"
	"tempmail/client/internal/download"
	"tempmail/client/internal/health"
	"tempmail/client/internal/mailapi"
	"tempmail/client/internal/mailsync"
	"tempmail/client/internal/middleware"
	"tempmail/client/internal/monitoring"
	"tempmail/client/internal/session"
	"tempmail/client/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config     *config.Config
	Session    *session.Manager
	Sync       *mailsync.Client
	API        *mailapi.Client       // 可选，附件重定向和域名刷新使用
	Hub        *websocket.Hub        // 可选，为 nil 时不提供 /ws
	Metrics    *monitoring.Metrics   // 可选，为 nil 时不提供 /metrics
	Health     *health.HealthChecker // 可选，为 nil 时 /health/* 只返回 ok
	Downloader *download.Downloader  // 可选，为 nil 时不能保存附件到本地
	Logger     *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		router.Use(mm.HTTPMetrics())
	}
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(64 * 1024))

	// CORS 配置
	origins := []string{"*"}
	if deps.Config != nil && len(deps.Config.Bridge.AllowedOrigins) > 0 {
		origins = deps.Config.Bridge.AllowedOrigins
	}
	corsConfig := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := newHandler(deps)

	// 健康检查
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
		router.GET("/health", func(c *gin.Context) {
			Success(c, deps.Health.CheckHealth())
		})
	} else {
		ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
		router.GET("/health/live", ok)
		router.GET("/health/ready", ok)
	}

	// Prometheus 指标端点
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// WebSocket
	if deps.Hub != nil {
		router.GET("/ws", websocket.HandleWebSocket(deps.Hub))
	}

	api := router.Group("/api")
	{
		api.GET("/state", handler.getState)

		// 邮件列表
		api.GET("/envelopes", handler.listEnvelopes)
		api.POST("/envelopes/more", handler.loadMore)

		// 地址
		api.GET("/address", handler.getAddress)
		api.PUT("/address", handler.updateAddress)
		api.POST("/address/random", handler.randomAddress)
		api.GET("/domains", handler.listDomains)
		api.GET("/history", handler.listHistory)
		api.DELETE("/history", handler.forgetHistory)

		// 邮件详情
		api.GET("/messages/:id", handler.getMessage)
		api.GET("/messages/:id/render", handler.renderMessage)
		api.POST("/messages/:id/rendered", handler.markRendered)
		api.POST("/messages/:id/attachments", handler.saveAttachments)
		api.DELETE("/selection", handler.clearSelection)

		// 附件
		api.GET("/attachments/:id", handler.downloadAttachment)
	}

	return router
}
