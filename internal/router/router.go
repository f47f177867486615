package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/handler"
	"github.com/stemsi/examhub/internal/middleware"
	"github.com/stemsi/examhub/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	WS            *handler.WSHandler
	Health        *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)

	// ─── Candidate API (Student JWT) ───────────────────────────────────
	student := router.Group("/api/v1/student")
	student.Use(middleware.RequireStudentJWT(auth), limiter.Middleware(), middleware.NoStore())
	{
		student.GET("/results", handlers.StudentPortal.ListResults)

		exam := student.Group("/exams/:exam_id")
		{
			exam.GET("/session", handlers.StudentPortal.GetSession)
			exam.DELETE("/session", handlers.StudentPortal.LeaveSession)
			exam.POST("/answer", handlers.StudentPortal.AnswerCurrent)
			exam.PUT("/answers/:index", handlers.StudentPortal.SetAnswer)
			exam.POST("/next", handlers.StudentPortal.Next)
			exam.POST("/previous", handlers.StudentPortal.Previous)
			exam.POST("/goto", handlers.StudentPortal.GoTo)
			exam.POST("/submit", handlers.StudentPortal.Submit)
			exam.GET("/result", handlers.StudentPortal.GetResult)
		}
	}

	// ─── WebSocket (token in query) ────────────────────────────────────
	ws := router.Group("/ws/v1/student")
	ws.Use(middleware.RequireStudentWSAuth(auth), limiter.Middleware())
	{
		ws.GET("/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	return router
}
