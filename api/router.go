package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/api/handlers"
	"github.com/yourusername/remotedl-go/api/middleware"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
	"github.com/yourusername/remotedl-go/pkg/logger"
)

// Service is everything the router needs from the download manager
type Service interface {
	handlers.DownloadService
	handlers.Readiness
}

// RouterConfig holds the dependencies of the HTTP router
type RouterConfig struct {
	Downloads   Service
	Records     handlers.RecordCounter
	Notifier    *infrastructure.NotificationService
	Logger      *zap.Logger
	MultiLogger *logger.MultiLogger
	LogsDir     string
}

// SetupRouter sets up the HTTP router
func SetupRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(config.Logger, config.MultiLogger))
	router.Use(middleware.Recovery(config.Logger, config.MultiLogger))

	healthHandler := handlers.NewHealthHandler(config.Downloads, config.Records)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(config.Downloads, config.Notifier, config.Logger)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/:id", downloadHandler.GetDownload)
			downloads.PATCH("/:id", downloadHandler.UpdateDownload)
			downloads.DELETE("/:id", downloadHandler.DeleteDownload)
			downloads.GET("/:id/failure", downloadHandler.GetFailure)
			downloads.POST("/:id/pause", downloadHandler.PauseDownload)
			downloads.POST("/:id/stop", downloadHandler.StopDownload)
			downloads.POST("/:id/start", downloadHandler.StartDownload)
			downloads.POST("/:id/migrate", downloadHandler.MigrateDownload)
			downloads.POST("/:id/release", downloadHandler.ReleaseDownload)
		}

		logHandler := handlers.NewLogHandler(config.LogsDir)
		wsHandler := handlers.NewLogWebSocketHandler(config.LogsDir, config.Logger)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/ws", wsHandler.HandleWebSocket)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})

	return router
}
