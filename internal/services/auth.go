package services

import (
	"context"
	"errors"
	"time"

	"github.com/newsplatform/backend/internal/models"
	"github.com/newsplatform/backend/internal/store"
	"github.com/newsplatform/backend/internal/utils"
)

// AuthService verifies credentials and orchestrates login, refresh and
// logout on top of the session manager.
type AuthService struct {
	users    store.UserStore
	sessions *SessionManager
}

func NewAuthService(users store.UserStore, sessions *SessionManager) *AuthService {
	return &AuthService{users: users, sessions: sessions}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	TokenPair
	User *models.User `json:"user"`
}

// Login authenticates by username or email and issues a token pair. Unknown
// user and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	user, err := s.users.FindByHandle(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStoreUnavailable
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		LogWarning("auth", "login_failed", "wrong password for "+user.Username, &user.ID, clientIP, userAgent, nil)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		LogWarning("auth", "login_failed", "disabled account "+user.Username, &user.ID, clientIP, userAgent, nil)
		return nil, ErrUserDisabled
	}

	pair, err := s.sessions.Issue(ctx, user, clientIP, userAgent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	if err := s.users.Save(ctx, user); err != nil {
		// Last-login is advisory; the issued pair stands.
		LogWarning("auth", "login", "failed to record last login", &user.ID, clientIP, userAgent, nil)
	}

	LogInfo("auth", "login", "user logged in", &user.ID, clientIP, userAgent, nil)
	return &LoginResult{TokenPair: *pair, User: user}, nil
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*TokenPair, error) {
	return s.sessions.Rotate(ctx, refreshToken, clientIP, userAgent)
}

// Logout revokes the supplied pair, or every session of the owner when
// allDevices is set. Returns the number of tokens revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string, allDevices bool) (int, error) {
	count, err := s.sessions.Revoke(ctx, accessToken, refreshToken, allDevices)
	if err != nil {
		return 0, err
	}
	LogInfo("auth", "logout", "user logged out", nil, "", "", map[string]interface{}{
		"revoked":     count,
		"all_devices": allDevices,
	})
	return count, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword verifies the old secret, stores the new hash and revokes
// every outstanding session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req *ChangePasswordRequest) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return ErrInvalidCredentials
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	user.Password = hashed
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	LogInfo("auth", "change_password", "password changed, sessions revoked", &userID, "", "", nil)
	return nil
}

// CreateAdminIfNotExists seeds the default administrator account.
func (s *AuthService) CreateAdminIfNotExists(ctx context.Context) error {
	count, err := s.users.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.User{
		Username: "admin",
		Email:    "admin@newsplatform.local",
		Password: hashed,
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	return s.users.Create(ctx, &admin)
}
