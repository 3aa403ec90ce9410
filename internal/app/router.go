package app

import (
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/middleware"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	// 文档由 swag init 生成到 /swagger/doc.json
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))
	router.GET("/metrics", monitoring.PrometheusHandler())

	api := router.Group("/api")

	// 1. 公共路由(无需登录)
	api.GET("/health", c.health.HealthCheck)
	api.POST("/register", c.auth.Register)
	api.POST("/login", c.auth.Login)

	// 2. 需要登录的路由
	authGroup := api.Group("")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		authGroup.POST("/answers", c.answer.SubmitAnswer)
		authGroup.POST("/misconceptions/patterns", c.misconception.AnalyzePatterns)
		authGroup.POST("/misconceptions/explain", c.misconception.Explain)
		authGroup.POST("/adaptive/questions", c.adaptive.WeightedQuestions)
	}

	teacherGroup := authGroup.Group("/teacher")
	teacherGroup.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacherGroup.GET("/students/:id/profile", c.adaptive.StudentProfile)
	}

	// 3. 内部接口：定时任务令牌或管理员
	internal := api.Group("/internal/misconceptions")
	internal.Use(middleware.CronTokenOrAdmin(cfg.Misconception.CronToken, cfg.JWT.Secret))
	{
		internal.POST("/process-queue", c.misconception.ProcessQueue)
		if cfg.Misconception.QueueMonitorEnabled {
			internal.GET("/queue-stats", c.misconception.QueueStats)
		}
	}
}
