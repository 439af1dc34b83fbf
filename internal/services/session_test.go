package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newsplatform/backend/internal/config"
	"github.com/newsplatform/backend/internal/models"
	"github.com/newsplatform/backend/internal/store"
	"github.com/newsplatform/backend/internal/utils"
)

func init() {
	utils.SetJWTSecret("test-secret-key-for-testing")
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		Secret:            "test-secret-key-for-testing",
		AccessExpireMin:   60,
		RefreshExpireHour: 168,
	}
}

func newSessionEnv(t *testing.T) (*store.MemoryUserStore, *store.MemoryTokenStore, *SessionManager) {
	t.Helper()
	users := store.NewMemoryUserStore()
	tokens := store.NewMemoryTokenStore(users)
	sessions := NewSessionManager(tokens, testJWTConfig(), nil, 2*time.Second)
	return users, tokens, sessions
}

func createUser(t *testing.T, users *store.MemoryUserStore, username string, active bool) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Role:     models.RoleReader,
		IsActive: active,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return user
}

func TestIssueAndValidate(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	pair, err := sessions.Issue(ctx, user, "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}
	if !pair.AccessExpiresAt.Before(pair.RefreshExpiresAt) {
		t.Error("access token should expire before the refresh token")
	}

	got, err := sessions.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("resolved user = %q, expected %q", got.ID, user.ID)
	}
}

func TestIssue_DisabledUser(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", false)

	_, err := sessions.Issue(context.Background(), user, "", "")
	if !errors.Is(err, ErrUserDisabled) {
		t.Errorf("Issue() error = %v, expected ErrUserDisabled", err)
	}
}

func TestIssue_StoreDownFailsClosed(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)

	tokens.SetFailure(errors.New("connection refused"))
	_, err := sessions.Issue(context.Background(), user, "", "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Issue() error = %v, expected ErrStoreUnavailable", err)
	}
}

func TestValidateAccess_RefreshTokenRejected(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	pair, _ := sessions.Issue(context.Background(), user, "", "")

	_, err := sessions.ValidateAccess(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("ValidateAccess(refresh) error = %v, expected ErrTokenNotFound", err)
	}
}

func TestValidateAccess_Garbage(t *testing.T) {
	_, _, sessions := newSessionEnv(t)

	_, err := sessions.ValidateAccess(context.Background(), "not-a-token")
	if !errors.Is(err, ErrTokenTampered) {
		t.Errorf("ValidateAccess() error = %v, expected ErrTokenTampered", err)
	}
}

func TestValidateAccess_WellFormedButUnrecorded(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)

	// Verifies on signature alone, but no record backs it.
	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, time.Hour)

	_, err := sessions.ValidateAccess(context.Background(), value)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("ValidateAccess() error = %v, expected ErrTokenNotFound", err)
	}
}

func TestValidateAccess_ExpiredRecord(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()
	pair, _ := sessions.Issue(ctx, user, "", "")

	record, err := tokens.FindByValue(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("FindByValue() error = %v", err)
	}
	record.ExpiresAt = time.Now().Add(-time.Millisecond)
	if err := tokens.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_, err = sessions.ValidateAccess(ctx, pair.AccessToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateAccess() error = %v, expected ErrTokenExpired", err)
	}
}

func TestValidateAccess_DisabledOwner(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()
	pair, _ := sessions.Issue(ctx, user, "", "")

	user.IsActive = false
	if err := users.Save(ctx, user); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_, err := sessions.ValidateAccess(ctx, pair.AccessToken)
	if !errors.Is(err, ErrUserDisabled) {
		t.Errorf("ValidateAccess() error = %v, expected ErrUserDisabled", err)
	}
}

func TestValidateAccess_StoreDown(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	pair, _ := sessions.Issue(context.Background(), user, "", "")

	tokens.SetFailure(errors.New("connection refused"))
	_, err := sessions.ValidateAccess(context.Background(), pair.AccessToken)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("ValidateAccess() error = %v, expected ErrStoreUnavailable", err)
	}
}

func TestValidateAccess_DuplicateServedAndReconciled(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, time.Hour)
	base := time.Now()
	older := &models.AuthToken{
		UserID: user.ID, TokenValue: value, Kind: models.TokenKindAccess,
		Status: models.TokenStatusActive, ExpiresAt: base.Add(time.Hour), IssuedAt: base,
	}
	newer := &models.AuthToken{
		UserID: user.ID, TokenValue: value, Kind: models.TokenKindAccess,
		Status: models.TokenStatusActive, ExpiresAt: base.Add(time.Hour), IssuedAt: base.Add(2 * time.Second),
	}
	for _, record := range []*models.AuthToken{older, newer} {
		if err := tokens.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	// Validation stays available during the anomaly.
	got, err := sessions.ValidateAccess(ctx, value)
	if err != nil {
		t.Fatalf("ValidateAccess() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("resolved user = %q, expected %q", got.ID, user.ID)
	}

	// And the anomaly is repaired: the latest-issued record survives ACTIVE,
	// the other is demoted, nothing is deleted.
	stored, ok := tokens.Get(newer.ID)
	if !ok || stored.Status != models.TokenStatusActive {
		t.Errorf("latest-issued record status = %q, expected ACTIVE", stored.Status)
	}
	stored, ok = tokens.Get(older.ID)
	if !ok {
		t.Fatal("demoted record must not be deleted")
	}
	if stored.Status != models.TokenStatusRevoked {
		t.Errorf("older record status = %q, expected REVOKED", stored.Status)
	}
}

func TestRotate_DuplicateValue(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindRefresh, time.Hour)
	base := time.Now()
	older := &models.AuthToken{
		UserID: user.ID, TokenValue: value, Kind: models.TokenKindRefresh,
		Status: models.TokenStatusActive, ExpiresAt: base.Add(time.Hour), IssuedAt: base,
	}
	newer := &models.AuthToken{
		UserID: user.ID, TokenValue: value, Kind: models.TokenKindRefresh,
		Status: models.TokenStatusActive, ExpiresAt: base.Add(time.Hour), IssuedAt: base.Add(2 * time.Second),
	}
	for _, record := range []*models.AuthToken{older, newer} {
		if err := tokens.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	// Rotation reconciles the anomaly and completes with the survivor.
	fresh, err := sessions.Rotate(ctx, value, "", "")
	if err != nil {
		t.Fatalf("Rotate() on duplicated value error = %v", err)
	}
	if fresh.RefreshToken == value {
		t.Error("rotation must mint a new refresh token")
	}
	if _, err := sessions.ValidateAccess(ctx, fresh.AccessToken); err != nil {
		t.Errorf("ValidateAccess(new access) error = %v", err)
	}

	// The survivor was consumed by the rotation, the loser demoted; both rows
	// remain as an audit trail.
	matches, _ := tokens.FindAllByValue(ctx, value)
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, expected 2", len(matches))
	}
	for _, m := range matches {
		if m.Status != models.TokenStatusRevoked {
			t.Errorf("record %q status = %q, expected REVOKED", m.ID, m.Status)
		}
	}

	survivor, ok := tokens.Get(newer.ID)
	if !ok || survivor.UsageCount != 1 {
		t.Errorf("latest-issued record usage count = %d, expected 1", survivor.UsageCount)
	}
}

func TestRevoke_DuplicateValue(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, time.Hour)
	base := time.Now()
	for i := 0; i < 2; i++ {
		record := &models.AuthToken{
			UserID: user.ID, TokenValue: value, Kind: models.TokenKindAccess,
			Status: models.TokenStatusActive, ExpiresAt: base.Add(time.Hour),
			IssuedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := tokens.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	// Revocation reconciles first, then retires the survivor.
	count, err := sessions.Revoke(ctx, value, "", false)
	if err != nil {
		t.Fatalf("Revoke() on duplicated value error = %v", err)
	}
	if count != 1 {
		t.Errorf("Revoke() = %d, expected 1", count)
	}

	matches, _ := tokens.FindAllByValue(ctx, value)
	for _, m := range matches {
		if m.Status != models.TokenStatusRevoked {
			t.Errorf("record %q status = %q, expected REVOKED", m.ID, m.Status)
		}
	}
}

func TestRotate(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()
	pair, _ := sessions.Issue(ctx, user, "", "")

	fresh, err := sessions.Rotate(ctx, pair.RefreshToken, "10.0.0.2", "agent")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if fresh.RefreshToken == pair.RefreshToken {
		t.Error("rotation must mint a new refresh token")
	}

	// The new pair is usable.
	if _, err := sessions.ValidateAccess(ctx, fresh.AccessToken); err != nil {
		t.Errorf("ValidateAccess(new access) error = %v", err)
	}

	// The consumed refresh token is single-use.
	_, err = sessions.Rotate(ctx, pair.RefreshToken, "", "")
	if !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("second Rotate() error = %v, expected ErrTokenRevoked", err)
	}

	// The retired record remains as an audit trail with its usage counted.
	matches, _ := tokens.FindAllByValue(ctx, pair.RefreshToken)
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, expected 1", len(matches))
	}
	if matches[0].Status != models.TokenStatusRevoked {
		t.Errorf("old record status = %q, expected REVOKED", matches[0].Status)
	}
	if matches[0].UsageCount != 1 {
		t.Errorf("old record usage count = %d, expected 1", matches[0].UsageCount)
	}
}

func TestRotate_AccessTokenRejected(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	pair, _ := sessions.Issue(context.Background(), user, "", "")

	_, err := sessions.Rotate(context.Background(), pair.AccessToken, "", "")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Rotate(access) error = %v, expected ErrTokenNotFound", err)
	}
}

func TestRotate_ExpiredRefresh(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)

	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindRefresh, -time.Minute)

	_, err := sessions.Rotate(context.Background(), value, "", "")
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Rotate() error = %v, expected ErrTokenExpired", err)
	}
}

func TestRotate_Concurrent(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()
	pair, _ := sessions.Issue(ctx, user, "", "")

	const workers = 4
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sessions.Rotate(ctx, pair.RefreshToken, "", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("losing rotation error = %v, expected ErrTokenRevoked", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, expected exactly 1", successes)
	}

	stats, err := sessions.StatsForUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("StatsForUser() error = %v", err)
	}
	if stats.ActiveRefreshTokens != 1 {
		t.Errorf("active refresh tokens = %d, expected 1", stats.ActiveRefreshTokens)
	}

	// Losing rotations must not inflate the usage counter; it counts actual
	// exchanges.
	matches, _ := tokens.FindAllByValue(ctx, pair.RefreshToken)
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, expected 1", len(matches))
	}
	if matches[0].UsageCount != 1 {
		t.Errorf("usage count = %d, expected 1", matches[0].UsageCount)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()
	pair, _ := sessions.Issue(ctx, user, "", "")

	count, err := sessions.Revoke(ctx, pair.AccessToken, pair.RefreshToken, false)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if count != 2 {
		t.Errorf("first Revoke() = %d, expected 2", count)
	}

	count, err = sessions.Revoke(ctx, pair.AccessToken, pair.RefreshToken, false)
	if err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}
	if count != 0 {
		t.Errorf("second Revoke() = %d, expected 0", count)
	}

	_, err = sessions.ValidateAccess(ctx, pair.AccessToken)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("ValidateAccess() after revoke error = %v, expected ErrTokenRevoked", err)
	}
}

func TestRevoke_UnknownTokenZeroEffect(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)

	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, time.Hour)

	count, err := sessions.Revoke(context.Background(), value, "", false)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Revoke() = %d, expected 0", count)
	}
}

func TestRevoke_TamperedRejected(t *testing.T) {
	_, _, sessions := newSessionEnv(t)

	_, err := sessions.Revoke(context.Background(), "garbage", "", false)
	if !errors.Is(err, ErrTokenTampered) {
		t.Errorf("Revoke() error = %v, expected ErrTokenTampered", err)
	}
}

func TestRevoke_ExpiredSessionLogout(t *testing.T) {
	users, tokens, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	// Logging out of an already-expired session is a normal request.
	value, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, -time.Minute)
	record := &models.AuthToken{
		UserID: user.ID, TokenValue: value, Kind: models.TokenKindAccess,
		Status: models.TokenStatusActive, ExpiresAt: time.Now().Add(-time.Minute), IssuedAt: time.Now().Add(-2 * time.Hour),
	}
	if err := tokens.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	count, err := sessions.Revoke(ctx, value, "", false)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Revoke() = %d, expected 1", count)
	}
}

func TestRevoke_Global(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pair, err := sessions.Issue(ctx, user, "", "")
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		pairs = append(pairs, pair)
	}

	count, err := sessions.Revoke(ctx, pairs[0].AccessToken, "", true)
	if err != nil {
		t.Fatalf("Revoke(global) error = %v", err)
	}
	if count != 6 {
		t.Errorf("Revoke(global) = %d, expected 6", count)
	}

	for _, pair := range pairs {
		if _, err := sessions.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("ValidateAccess() after global revoke error = %v, expected ErrTokenRevoked", err)
		}
	}
}

func TestRevoke_GlobalFallsBackToClaims(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	ctx := context.Background()

	// An unrecorded but authentic access token still identifies its owner.
	presented, _, _ := utils.GenerateToken(user.ID, user.Username, user.Role, models.TokenKindAccess, time.Hour)

	pair, _ := sessions.Issue(ctx, user, "", "")
	count, err := sessions.Revoke(ctx, presented, "", true)
	if err != nil {
		t.Fatalf("Revoke(global) error = %v", err)
	}
	if count != 2 {
		t.Errorf("Revoke(global) = %d, expected 2", count)
	}
	if _, err := sessions.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("ValidateAccess() error = %v, expected ErrTokenRevoked", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	users, _, sessions := newSessionEnv(t)
	user := createUser(t, users, "alice", true)
	other := createUser(t, users, "bob", true)
	ctx := context.Background()

	if _, err := sessions.Issue(ctx, user, "", ""); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	otherPair, _ := sessions.Issue(ctx, other, "", "")

	count, err := sessions.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	if count != 2 {
		t.Errorf("RevokeAllForUser() = %d, expected 2", count)
	}

	if _, err := sessions.ValidateAccess(ctx, otherPair.AccessToken); err != nil {
		t.Errorf("other user's session should be untouched, got %v", err)
	}
}
