package services

import (
	"context"
	"strconv"
	"time"

	"github.com/newsplatform/backend/internal/store"
	"github.com/newsplatform/backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

// TokenCleanupService prunes retired token records past their retention
// window and sweeps duplicate values back to one record per value.
type TokenCleanupService struct {
	tokens        store.TokenStore
	reconciler    *TokenReconciler
	configSvc     *SystemConfigService // optional
	auditLogs     *AuditLogService     // optional
	retentionDays int
}

func NewTokenCleanupService(tokens store.TokenStore, reconciler *TokenReconciler, configSvc *SystemConfigService, auditLogs *AuditLogService, retentionDays int) *TokenCleanupService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &TokenCleanupService{
		tokens:        tokens,
		reconciler:    reconciler,
		configSvc:     configSvc,
		auditLogs:     auditLogs,
		retentionDays: retentionDays,
	}
}

// CleanupExpired deletes non-ACTIVE records whose expiry is older than the
// retention window. ACTIVE rows are never touched here.
func (s *TokenCleanupService) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.getRetentionDays())
	return s.tokens.DeleteExpiredBefore(ctx, cutoff)
}

// SweepDuplicates reconciles every duplicated token value.
func (s *TokenCleanupService) SweepDuplicates(ctx context.Context) (int, error) {
	return s.reconciler.Sweep(ctx)
}

// Run executes one full maintenance pass.
func (s *TokenCleanupService) Run(ctx context.Context) {
	deleted, err := s.CleanupExpired(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("token retention cleanup failed")
	} else if deleted > 0 {
		logger.Infof("token retention cleanup removed %d records", deleted)
	}

	swept, err := s.SweepDuplicates(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("duplicate token sweep failed")
	} else if swept > 0 {
		logger.Infof("duplicate token sweep reconciled %d values", swept)
	}

	if s.auditLogs != nil {
		days := s.auditLogs.GetRetentionDays(90)
		pruned, err := s.auditLogs.CleanupOldLogs(days)
		if err != nil {
			logger.Error().Err(err).Msg("audit log cleanup failed")
		} else if pruned > 0 {
			logger.Infof("audit log cleanup removed %d entries", pruned)
		}
	}
}

func (s *TokenCleanupService) getRetentionDays() int {
	days := s.retentionDays
	if s.configSvc != nil {
		value := s.configSvc.GetWithDefault("auth_token_retention_days", strconv.Itoa(days))
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			days = v
		}
	}
	return days
}

// StartCleanupScheduler runs one maintenance pass immediately and then on the
// given cron schedule. Returns the scheduler so callers can Stop it.
func StartCleanupScheduler(s *TokenCleanupService, schedule string) *cron.Cron {
	go s.Run(context.Background())

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		s.Run(context.Background())
	}); err != nil {
		logger.Errorf("invalid cleanup schedule %q: %v", schedule, err)
		return c
	}
	c.Start()
	return c
}
