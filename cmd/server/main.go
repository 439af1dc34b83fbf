package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsplatform/backend/internal/config"
	"github.com/newsplatform/backend/internal/models"
	"github.com/newsplatform/backend/internal/services"
	"github.com/newsplatform/backend/internal/store"
	"github.com/newsplatform/backend/internal/utils"
	"github.com/newsplatform/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Log.Level)
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	db := models.GetDB()
	services.InitAuditLogger(db)

	tokenStore := store.NewGormTokenStore(db)
	userStore := store.NewGormUserStore(db)
	configSvc := services.NewSystemConfigService(db)

	storeTimeout := time.Duration(cfg.Auth.StoreTimeoutMs) * time.Millisecond
	sessions := services.NewSessionManager(tokenStore, &cfg.JWT, configSvc, storeTimeout)
	authService := services.NewAuthService(userStore, sessions)

	if err := authService.CreateAdminIfNotExists(context.Background()); err != nil {
		logger.Warnf("failed to create default admin user: %v", err)
	}

	auditLogSvc := services.NewAuditLogService(db)
	cleanup := services.NewTokenCleanupService(tokenStore, sessions.Reconciler(), configSvc, auditLogSvc, cfg.Auth.RetentionDays)
	scheduler := services.StartCleanupScheduler(cleanup, cfg.Auth.CleanupSchedule)
	defer scheduler.Stop()

	gin.SetMode(cfg.Server.Mode)
	r := setupRouter(cfg, db, sessions, authService, cleanup, auditLogSvc)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Infof("listening on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}
