package services

import (
	"context"
	"time"

	"github.com/newsplatform/backend/internal/models"
	"github.com/newsplatform/backend/internal/store"
	"github.com/newsplatform/backend/pkg/logger"
)

// TokenReconciler restores the one-record-per-value invariant after a
// concurrency race has left multiple rows sharing a token value. Losers are
// demoted to REVOKED, never deleted, so the anomaly stays visible in the
// audit trail. Safe to call concurrently: marking REVOKED is commutative.
type TokenReconciler struct {
	tokens store.TokenStore
}

func NewTokenReconciler(tokens store.TokenStore) *TokenReconciler {
	return &TokenReconciler{tokens: tokens}
}

// Reconcile collapses all records sharing value down to one. The latest-issued
// still-usable record survives untouched; when none is usable the latest-issued
// record overall stands in, so a usable session is never sacrificed to a newer
// but already-dead duplicate. Every other ACTIVE record is revoked. With one or
// zero records it is a no-op. Idempotent.
func (r *TokenReconciler) Reconcile(ctx context.Context, value string) (*models.AuthToken, error) {
	records, err := r.tokens.FindAllByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) == 1 {
		return &records[0], nil
	}

	now := time.Now()
	var survivor *models.AuthToken
	for i := range records {
		if !records[i].IsValid(now) {
			continue
		}
		if survivor == nil || !records[i].IssuedAt.Before(survivor.IssuedAt) {
			survivor = &records[i]
		}
	}
	if survivor == nil {
		survivor = &records[0]
		for i := 1; i < len(records); i++ {
			if !records[i].IssuedAt.Before(survivor.IssuedAt) {
				survivor = &records[i]
			}
		}
	}

	demoted := 0
	for i := range records {
		record := &records[i]
		if record.ID == survivor.ID || record.Status != models.TokenStatusActive {
			continue
		}
		revoked, err := r.tokens.MarkRevoked(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			demoted++
		}
	}

	if demoted > 0 {
		logger.Warn().
			Int("demoted", demoted).
			Int("total", len(records)).
			Msg("reconciled duplicate token records")
	}
	return survivor, nil
}

// Sweep reconciles every token value currently held by more than one record.
// Returns the number of values reconciled.
func (r *TokenReconciler) Sweep(ctx context.Context) (int, error) {
	values, err := r.tokens.DuplicateValues(ctx)
	if err != nil {
		return 0, err
	}
	for _, value := range values {
		if _, err := r.Reconcile(ctx, value); err != nil {
			return 0, err
		}
	}
	if len(values) > 0 {
		LogWarning("reconciler", "sweep", "duplicate token values reconciled", nil, "", "", map[string]interface{}{
			"values": len(values),
			"time":   time.Now().Format(time.RFC3339),
		})
	}
	return len(values), nil
}
