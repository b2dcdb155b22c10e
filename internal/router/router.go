package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/handler"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Assignment *handler.AssignmentHandler
	Attempt    *handler.AttemptHandler
	Monitor    *handler.MonitorHandler
	WS         *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/instructor/login", handlers.Auth.InstructorLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceLogin(authService),
	)
	{
		studentAPI.POST("/assignments/:assignment_id/attempts", handlers.Attempt.StartAttempt)
		studentAPI.GET("/attempts/:session_id", handlers.Attempt.GetAttempt)
		studentAPI.PUT("/attempts/:session_id/answers", handlers.Attempt.SaveAnswer)
		studentAPI.GET("/attempts/:session_id/heartbeat", handlers.Attempt.Heartbeat)
		studentAPI.POST("/attempts/:session_id/violations", handlers.Attempt.ReportViolation)
		studentAPI.POST("/attempts/:session_id/submit", handlers.Attempt.SubmitAttempt)
		studentAPI.GET("/attempts/:session_id/result", handlers.Attempt.GetResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:session_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Instructor Group (JWT) ─────────────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		instructorAPI.GET("/assignments", handlers.Assignment.ListAssignments)
		instructorAPI.POST("/assignments", handlers.Assignment.CreateAssignment)
		instructorAPI.GET("/assignments/:assignment_id", handlers.Assignment.GetAssignment)
		instructorAPI.PUT("/assignments/:assignment_id", handlers.Assignment.UpdateAssignment)
		instructorAPI.DELETE("/assignments/:assignment_id", handlers.Assignment.DeleteAssignment)
		instructorAPI.PUT("/assignments/:assignment_id/questions", handlers.Assignment.ReplaceQuestions)
		instructorAPI.POST("/assignments/:assignment_id/publish", handlers.Assignment.PublishAssignment)
		instructorAPI.POST("/assignments/:assignment_id/archive", handlers.Assignment.ArchiveAssignment)
		instructorAPI.GET("/assignments/:assignment_id/attempts", handlers.Assignment.ListAttempts)
		instructorAPI.GET("/assignments/:assignment_id/progress", handlers.Monitor.GetProgress)
		instructorAPI.GET("/assignments/:assignment_id/monitor", handlers.Monitor.MonitorAssignmentSSE)

		instructorAPI.POST("/students/:id/reset-login", handlers.Auth.ResetStudentLogin)
	}

	return router
}
