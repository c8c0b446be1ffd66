package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/handler"
	"github.com/stemsi/exstem-runner/internal/middleware"
	"github.com/stemsi/exstem-runner/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	ExamSession *handler.ExamSessionHandler
	System      *handler.SystemHandler
}

// SetupRouter configures the bridge routes the exam UI talks to.
// Closing stop ends the rate limiter's cleanup goroutine.
func SetupRouter(
	handlers *Handlers,
	auth middleware.ClaimsSource,
	cfg *config.Config,
	stop <-chan struct{},
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
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Session state changes every second; nothing here may be cached.
	router.Use(middleware.NoStore())

	router.GET("/health", handlers.System.Health)

	v1 := router.Group("/api/v1")

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	authGroup := v1.Group("/auth")
	{
		authGroup.GET("/status", handlers.Auth.Status)
		authGroup.POST("/login", handlers.Auth.StudentLogin)
		authGroup.POST("/logout", handlers.Auth.StudentLogout)
	}

	// ─── 2. Exam Session Group (Token Required) ────────────────────────
	mountLimiter := middleware.NewRateLimiter(cfg.MountRatePerMinute, time.Minute, stop)

	session := v1.Group("/exams/:exam_id/session")
	session.Use(middleware.RequireAuthenticated(auth))
	{
		session.POST("", mountLimiter.Middleware(), handlers.ExamSession.Mount)
		session.GET("", handlers.ExamSession.View)
		session.DELETE("", handlers.ExamSession.Unmount)
		session.GET("/stream", handlers.ExamSession.StreamView)
		session.PUT("/answers/:question_id", handlers.ExamSession.UpdateAnswer)
		session.POST("/answers/:question_id/submit", handlers.ExamSession.SubmitAnswer)
		session.POST("/navigation", handlers.ExamSession.Navigate)
		session.POST("/end", handlers.ExamSession.End)
	}

	return router
}
