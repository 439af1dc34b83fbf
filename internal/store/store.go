package store

import (
	"context"
	"errors"
	"time"

	"github.com/newsplatform/backend/internal/models"
)

var (
	// ErrTokenNotFound means no record exists for the given value or id.
	ErrTokenNotFound = errors.New("token record not found")
	// ErrDuplicateValue means more than one record shares a token value.
	// Callers with security consequences must reconcile before proceeding.
	ErrDuplicateValue = errors.New("duplicate token value")
	// ErrOwnerUnavailable means a record was found but its owner could not be
	// materialized in the same fetch. A record must never be handed back with
	// an owner the caller cannot safely read.
	ErrOwnerUnavailable = errors.New("token owner unavailable")
	// ErrUserNotFound means no user exists for the given id or handle.
	ErrUserNotFound = errors.New("user not found")
)

// TokenStore is the durable record of every issued token. All mutations are
// individually atomic single-statement operations; no multi-row transaction
// spans a read-old/write-new window.
type TokenStore interface {
	// Save persists a new token record.
	Save(ctx context.Context, token *models.AuthToken) error
	// FindByValue returns the single record for value with its owner eagerly
	// attached. Returns ErrTokenNotFound, ErrDuplicateValue or
	// ErrOwnerUnavailable as applicable.
	FindByValue(ctx context.Context, value string) (*models.AuthToken, error)
	// FindAllByValue returns every record sharing value, owners attached,
	// ordered by issue time ascending. Exists to detect the duplicate anomaly.
	FindAllByValue(ctx context.Context, value string) ([]models.AuthToken, error)
	// MarkRevoked flips one record ACTIVE -> REVOKED. Returns false when the
	// record was absent or already in a terminal status (idempotent).
	MarkRevoked(ctx context.Context, id string) (bool, error)
	// MarkAllRevokedForOwner flips every ACTIVE record of an owner to REVOKED
	// and returns how many transitioned.
	MarkAllRevokedForOwner(ctx context.Context, userID string) (int64, error)
	// IncrementUsage bumps a refresh record's usage counter.
	IncrementUsage(ctx context.Context, id string) error
	// DeleteExpiredBefore removes non-ACTIVE records whose expiry predates
	// cutoff and returns how many were deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// CountActiveForOwner counts ACTIVE records of a kind for an owner.
	CountActiveForOwner(ctx context.Context, userID, kind string) (int64, error)
	// DuplicateValues lists token values held by more than one record.
	DuplicateValues(ctx context.Context) ([]string, error)
}

// UserStore resolves principals for the credential verifier. The user CRUD
// itself belongs to the identity subsystem; this surface is read-mostly.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	// FindByHandle resolves a user by username or email.
	FindByHandle(ctx context.Context, handle string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Save(ctx context.Context, user *models.User) error
	CountByRole(ctx context.Context, role string) (int64, error)
}
