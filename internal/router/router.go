package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler

	// OpenLimiter throttles session opens per student; nil disables it.
	OpenLimiter *middleware.RateLimiter
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally. SSE and WebSocket requests pass through.
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	openGuards := []gin.HandlerFunc{}
	if handlers.OpenLimiter != nil {
		openGuards = append(openGuards, handlers.OpenLimiter.Middleware())
	}

	// ─── 1. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.POST("/tests/:test_id/session", append(openGuards, handlers.Session.OpenSession)...)
		studentAPI.GET("/tests/:test_id/session", handlers.Session.GetSession)
		studentAPI.GET("/tests/:test_id/session/summary", handlers.Session.GetSummary)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/tests/:test_id/stream", append(openGuards, handlers.WS.SessionStream)...)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		monitor := middleware.RequireAnyPermission(model.PermissionExamsMonitor, model.PermissionExamsRead)

		adminAPI.GET("/tests/:test_id/monitor", monitor, handlers.Monitor.MonitorTestSSE)
		adminAPI.GET("/tests/:test_id/violations", monitor, handlers.Monitor.ListViolations)
		adminAPI.GET("/tests/:test_id/students/:student_id/violations", monitor, handlers.Monitor.ListViolations)
		adminAPI.GET("/tests/:test_id/students/:student_id/session", monitor, handlers.Monitor.GetStudentSession)

		adminAPI.POST("/students/:student_id/reset-login",
			middleware.RequirePermission(model.PermissionStudentsResetSession),
			handlers.Monitor.ResetStudentLogin,
		)

		adminAPI.GET("/system/metrics", monitor, handlers.System.SystemMetricsSSE)
	}

	return router
}
