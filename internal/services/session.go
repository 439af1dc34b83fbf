package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/newsplatform/backend/internal/config"
	"github.com/newsplatform/backend/internal/models"
	"github.com/newsplatform/backend/internal/store"
	"github.com/newsplatform/backend/internal/utils"
	"github.com/newsplatform/backend/pkg/logger"
)

// Rejection vocabulary. The session manager never leaks store or codec error
// types upward; every failure maps onto one of these.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user account disabled")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenTampered      = errors.New("token malformed or tampered")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrStoreUnavailable   = errors.New("token store unavailable")
)

// TokenPair is the result of a successful issue or rotation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// SessionManager owns the token lifecycle: issuing pairs on login, validating
// bearer tokens per request, rotating refresh tokens and revoking on logout.
// All store calls are bounded by a short timeout; no in-process lock is held
// across them.
type SessionManager struct {
	tokens       store.TokenStore
	reconciler   *TokenReconciler
	jwtCfg       *config.JWTConfig
	configSvc    *SystemConfigService // optional, runtime-tunable TTLs
	storeTimeout time.Duration
}

func NewSessionManager(tokens store.TokenStore, jwtCfg *config.JWTConfig, configSvc *SystemConfigService, storeTimeout time.Duration) *SessionManager {
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	return &SessionManager{
		tokens:       tokens,
		reconciler:   NewTokenReconciler(tokens),
		jwtCfg:       jwtCfg,
		configSvc:    configSvc,
		storeTimeout: storeTimeout,
	}
}

// Reconciler exposes the duplicate reconciler for maintenance jobs.
func (m *SessionManager) Reconciler() *TokenReconciler {
	return m.reconciler
}

// Issue mints an access/refresh pair for an active user and persists both as
// ACTIVE records. Fresh codec values carry a unique jti, so no duplicate
// check is needed here.
func (m *SessionManager) Issue(ctx context.Context, user *models.User, clientIP, userAgent string) (*TokenPair, error) {
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	accessTTL := m.accessTTL()
	refreshTTL := m.refreshTTL()

	accessValue, accessExpiry, err := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}
	refreshValue, refreshExpiry, err := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindRefresh, refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	records := []*models.AuthToken{
		{
			UserID:     user.ID,
			TokenValue: accessValue,
			Kind:       models.TokenKindAccess,
			Status:     models.TokenStatusActive,
			ExpiresAt:  accessExpiry,
			IssuedAt:   time.Now(),
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
		{
			UserID:     user.ID,
			TokenValue: refreshValue,
			Kind:       models.TokenKindRefresh,
			Status:     models.TokenStatusActive,
			ExpiresAt:  refreshExpiry,
			IssuedAt:   time.Now(),
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
	}
	for _, record := range records {
		sctx, cancel := m.storeCtx(ctx)
		err := m.tokens.Save(sctx, record)
		cancel()
		if err != nil {
			// Fail closed: a pair that was not durably recorded is not handed out.
			return nil, ErrStoreUnavailable
		}
	}

	return &TokenPair{
		AccessToken:      accessValue,
		RefreshToken:     refreshValue,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// ValidateAccess resolves the user behind an access token. This is the only
// path by which request-time identity is established.
//
// On the duplicate-value anomaly this path stays available: it serves the
// most-recently-issued usable candidate, logs the anomaly and reconciles,
// rather than refusing every request for the duration of the race window.
func (m *SessionManager) ValidateAccess(ctx context.Context, tokenValue string) (*models.User, error) {
	if _, err := m.decode(tokenValue, models.TokenKindAccess); err != nil {
		return nil, err
	}

	sctx, cancel := m.storeCtx(ctx)
	record, err := m.tokens.FindByValue(sctx, tokenValue)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateValue):
		record, err = m.pickDuplicateSurvivor(ctx, tokenValue)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrTokenNotFound):
		return nil, ErrTokenNotFound
	default:
		return nil, ErrStoreUnavailable
	}

	if err := m.checkRecord(record, models.TokenKindAccess); err != nil {
		return nil, err
	}
	return record.User, nil
}

// Rotate exchanges a valid refresh token for a fresh pair. Rotation is
// single-use: the old record is revoked before the new pair is minted, and
// only the winning rotation bumps its usage counter. A concurrent rotation
// that lost the revocation race is rejected.
func (m *SessionManager) Rotate(ctx context.Context, refreshValue, clientIP, userAgent string) (*TokenPair, error) {
	if _, err := m.decode(refreshValue, models.TokenKindRefresh); err != nil {
		return nil, err
	}

	record, err := m.resolveExclusive(ctx, refreshValue)
	if err != nil {
		return nil, err
	}
	if err := m.checkRecord(record, models.TokenKindRefresh); err != nil {
		return nil, err
	}

	sctx, cancel := m.storeCtx(ctx)
	revoked, err := m.tokens.MarkRevoked(sctx, record.ID)
	cancel()
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !revoked {
		// Another rotation consumed this token first.
		return nil, ErrTokenRevoked
	}

	// Usage is counted only on the rotation that won the revocation, so the
	// counter matches the number of actual exchanges. The retired record is
	// kept as an audit trail, never deleted here.
	sctx, cancel = m.storeCtx(ctx)
	err = m.tokens.IncrementUsage(sctx, record.ID)
	cancel()
	if err != nil {
		// The exchange already happened; the counter is advisory.
		logger.Warn().Err(err).Msg("failed to record refresh token usage")
	}

	pair, err := m.Issue(ctx, record.User, clientIP, userAgent)
	if err != nil {
		return nil, err
	}

	LogInfo("session", "rotate", "refresh token rotated", &record.UserID, clientIP, userAgent, nil)
	return pair, nil
}

// Revoke retires tokens. With global=false the supplied access token (and
// refresh token, if present) are revoked as one logical logout; with
// global=true every ACTIVE record of the resolved owner is revoked. Returns
// how many records actually transitioned; re-revoking contributes zero.
func (m *SessionManager) Revoke(ctx context.Context, accessValue, refreshValue string, global bool) (int, error) {
	claims, err := utils.ParseToken(accessValue)
	if err != nil && !errors.Is(err, utils.ErrTokenExpired) {
		// A tampered token cannot authorize any revocation. An expired one can:
		// logging out an expired session is a normal request.
		return 0, ErrTokenTampered
	}

	if global {
		ownerID, err := m.resolveOwner(ctx, accessValue, claims)
		if err != nil {
			return 0, err
		}
		sctx, cancel := m.storeCtx(ctx)
		revoked, err := m.tokens.MarkAllRevokedForOwner(sctx, ownerID)
		cancel()
		if err != nil {
			return 0, ErrStoreUnavailable
		}
		LogInfo("session", "revoke_all", fmt.Sprintf("revoked %d tokens for user", revoked), &ownerID, "", "", nil)
		return int(revoked), nil
	}

	count := 0
	for _, value := range []string{accessValue, refreshValue} {
		if value == "" {
			continue
		}
		revoked, err := m.revokeOne(ctx, value)
		if err != nil {
			return count, err
		}
		if revoked {
			count++
		}
	}
	return count, nil
}

// RevokeAllForUser revokes every ACTIVE record of a user, regardless of how
// many sessions hold tokens.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	sctx, cancel := m.storeCtx(ctx)
	revoked, err := m.tokens.MarkAllRevokedForOwner(sctx, userID)
	cancel()
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	return int(revoked), nil
}

// TokenStats summarizes a user's outstanding sessions.
type TokenStats struct {
	ActiveAccessTokens  int64 `json:"active_access_tokens"`
	ActiveRefreshTokens int64 `json:"active_refresh_tokens"`
}

func (m *SessionManager) StatsForUser(ctx context.Context, userID string) (*TokenStats, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	access, err := m.tokens.CountActiveForOwner(sctx, userID, models.TokenKindAccess)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	refresh, err := m.tokens.CountActiveForOwner(sctx, userID, models.TokenKindRefresh)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return &TokenStats{ActiveAccessTokens: access, ActiveRefreshTokens: refresh}, nil
}

// revokeOne revokes the record behind a single token value. Absent or
// already-revoked records are a zero-effect success.
func (m *SessionManager) revokeOne(ctx context.Context, value string) (bool, error) {
	record, err := m.resolveExclusive(ctx, value)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sctx, cancel := m.storeCtx(ctx)
	revoked, err := m.tokens.MarkRevoked(sctx, record.ID)
	cancel()
	if err != nil {
		return false, ErrStoreUnavailable
	}
	return revoked, nil
}

// resolveExclusive resolves a token value to its single authoritative record.
// On the duplicate anomaly it reconciles synchronously and re-resolves; this
// path backs operations with security consequences (rotate, revoke), which
// must never pick a candidate arbitrarily.
func (m *SessionManager) resolveExclusive(ctx context.Context, value string) (*models.AuthToken, error) {
	sctx, cancel := m.storeCtx(ctx)
	record, err := m.tokens.FindByValue(sctx, value)
	cancel()
	if err == nil {
		return record, nil
	}

	switch {
	case errors.Is(err, store.ErrDuplicateValue):
		m.logDuplicate(value)
		// The demoted losers are retained, so a fresh lookup by value would
		// still see multiple rows; the operation proceeds with the survivor
		// the reconciler settled on.
		rctx, rcancel := m.storeCtx(ctx)
		survivor, rerr := m.reconciler.Reconcile(rctx, value)
		rcancel()
		if rerr != nil {
			return nil, ErrStoreUnavailable
		}
		if survivor == nil {
			return nil, ErrTokenNotFound
		}
		return survivor, nil
	case errors.Is(err, store.ErrTokenNotFound):
		return nil, ErrTokenNotFound
	default:
		return nil, ErrStoreUnavailable
	}
}

// pickDuplicateSurvivor serves the read-only validation path during a
// duplicate anomaly: the most-recently-issued usable candidate wins, the
// anomaly is logged and reconciliation runs opportunistically.
func (m *SessionManager) pickDuplicateSurvivor(ctx context.Context, value string) (*models.AuthToken, error) {
	m.logDuplicate(value)

	sctx, cancel := m.storeCtx(ctx)
	candidates, err := m.tokens.FindAllByValue(sctx, value)
	cancel()
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	var survivor *models.AuthToken
	now := time.Now()
	for i := range candidates {
		c := &candidates[i]
		if !c.IsValid(now) {
			continue
		}
		if survivor == nil || c.IssuedAt.After(survivor.IssuedAt) {
			survivor = c
		}
	}
	if survivor == nil {
		return nil, ErrTokenNotFound
	}

	// Best effort; validation availability does not depend on it.
	rctx, rcancel := m.storeCtx(ctx)
	if _, err := m.reconciler.Reconcile(rctx, value); err != nil {
		logger.Warn().Err(err).Msg("duplicate token reconciliation failed")
	}
	rcancel()

	return survivor, nil
}

// resolveOwner determines the owner of an access token for global revocation,
// falling back to the signed claims when the record is already gone.
func (m *SessionManager) resolveOwner(ctx context.Context, accessValue string, claims *utils.Claims) (string, error) {
	record, err := m.resolveExclusive(ctx, accessValue)
	if err == nil {
		return record.UserID, nil
	}
	if errors.Is(err, ErrTokenNotFound) && claims != nil && claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", err
}

// checkRecord applies the validity rules shared by validation and rotation.
func (m *SessionManager) checkRecord(record *models.AuthToken, wantKind string) error {
	if record.Kind != wantKind {
		return ErrTokenNotFound
	}
	switch record.Status {
	case models.TokenStatusRevoked:
		return ErrTokenRevoked
	case models.TokenStatusExpired:
		return ErrTokenExpired
	}
	if record.IsExpired(time.Now()) {
		return ErrTokenExpired
	}
	if record.User == nil {
		return ErrStoreUnavailable
	}
	if !record.User.IsActive {
		return ErrUserDisabled
	}
	return nil
}

// decode verifies signature, expiry and kind of the codec envelope.
func (m *SessionManager) decode(value, wantKind string) (*utils.Claims, error) {
	claims, err := utils.ParseToken(value)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenTampered
	}
	if claims.Kind != wantKind {
		return nil, ErrTokenNotFound
	}
	return claims, nil
}

func (m *SessionManager) logDuplicate(value string) {
	prefix := value
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}
	logger.Warn().Str("token_prefix", prefix).Msg("duplicate token value detected")
	LogWarning("session", "duplicate_token", "duplicate token value detected", nil, "", "", map[string]interface{}{
		"token_prefix": prefix,
	})
}

func (m *SessionManager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, m.storeTimeout)
}

func (m *SessionManager) accessTTL() time.Duration {
	minutes := m.jwtCfg.AccessExpireMin
	if m.configSvc != nil {
		value := m.configSvc.GetWithDefault("auth_access_expire_minutes", strconv.Itoa(minutes))
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			minutes = v
		}
	}
	return time.Duration(minutes) * time.Minute
}

func (m *SessionManager) refreshTTL() time.Duration {
	hours := m.jwtCfg.RefreshExpireHour
	if m.configSvc != nil {
		value := m.configSvc.GetWithDefault("auth_refresh_expire_hours", strconv.Itoa(hours))
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			hours = v
		}
	}
	return time.Duration(hours) * time.Hour
}
