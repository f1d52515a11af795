package app

import (
	"qms_backend/docs"
	"qms_backend/internal/config"
	"qms_backend/internal/middleware"
	"qms_backend/internal/model"
	"qms_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由（无需登录）
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerTeacherRoutes(authGroup, c)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	// 测验浏览
	rg.GET("/quizzes", c.quiz.ListPublished)
	rg.GET("/quizzes/batch", c.quiz.GetBatch)
	rg.GET("/quizzes/:id/template", c.quiz.GetTemplate)

	// 答卷提交与评分
	submissions := rg.Group("/submissions")
	{
		submissions.POST("", c.submission.Submit)
		submissions.POST("/draft", c.submission.SaveDraft)
		submissions.POST("/finalize", c.submission.FinalizeDraft)
		submissions.POST("/upload", c.submission.UploadSubmission)
		submissions.GET("/history/:userId", c.submission.History)
		submissions.GET("/stats/student/:userId", c.submission.StudentStats)
	}
}

func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher, model.Admin))
	{
		quizzes := teacher.Group("/quizzes")
		{
			quizzes.POST("", c.quiz.Create)
			quizzes.GET("", c.quiz.ListMine)
			quizzes.GET("/:id", c.quiz.Get)
			quizzes.PUT("/:id", c.quiz.Update)
			quizzes.DELETE("/:id", c.quiz.Delete)
			quizzes.POST("/:id/publish", c.quiz.Publish)
			quizzes.POST("/import", c.quiz.Import)
		}

		submissions := teacher.Group("/submissions")
		{
			submissions.GET("/stats", c.submission.InstructorStats)
			submissions.POST("/:id/regrade", c.submission.Regrade)
		}
	}
}
