package main

import (
	"github.com/gin-gonic/gin"
	"github.com/newsplatform/backend/internal/config"
	"github.com/newsplatform/backend/internal/handlers"
	"github.com/newsplatform/backend/internal/middleware"
	"github.com/newsplatform/backend/internal/services"
	"github.com/newsplatform/backend/pkg/logger"
	"gorm.io/gorm"
)

func setupRouter(cfg *config.Config, db *gorm.DB, sessions *services.SessionManager, authService *services.AuthService, cleanup *services.TokenCleanupService, auditLogSvc *services.AuditLogService) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS())

	// Every request passes the fail-open guard; anonymous requests proceed.
	r.Use(middleware.Authenticate(sessions))

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/health", healthHandler.Check)

	authHandler := handlers.NewAuthHandler(authService)
	adminHandler := handlers.NewAdminHandler(sessions, cleanup, auditLogSvc)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", middleware.RateLimit(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateBurst), authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/change-password", authHandler.ChangePassword)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditWrites())
		{
			admin.GET("/users/:id/tokens", adminHandler.GetUserTokenStats)
			admin.POST("/users/:id/revoke", adminHandler.RevokeUserTokens)
			admin.POST("/tokens/cleanup", adminHandler.RunTokenCleanup)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	return r
}
