package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Token kinds.
const (
	TokenKindAccess  = "ACCESS"
	TokenKindRefresh = "REFRESH"
)

// Token statuses. EXPIRED is derived from ExpiresAt at read time and only
// persisted by maintenance jobs; ACTIVE -> REVOKED is the sole stored transition.
const (
	TokenStatusActive  = "ACTIVE"
	TokenStatusRevoked = "REVOKED"
	TokenStatusExpired = "EXPIRED"
)

// AuthToken is one issued bearer credential. The token value is intended to be
// unique, but concurrent refresh requests can race two rows with the same value
// into the table before the index lands; lookups must tolerate that.
type AuthToken struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	UserID     string    `gorm:"index;size:36;not null" json:"user_id"`
	User       *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	TokenValue string    `gorm:"index;size:1000;not null" json:"-"`
	Kind       string    `gorm:"size:20;not null" json:"kind"`
	Status     string    `gorm:"size:20;not null;default:ACTIVE" json:"status"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	IssuedAt   time.Time `gorm:"not null" json:"issued_at"`
	ClientIP   string    `gorm:"size:45" json:"client_ip,omitempty"`
	UserAgent  string    `gorm:"size:500" json:"user_agent,omitempty"`
	UsageCount int       `gorm:"not null;default:0" json:"usage_count"` // refresh tokens only
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (AuthToken) TableName() string { return "auth_tokens" }

func (t *AuthToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = time.Now()
	}
	return nil
}

// IsExpired reports whether the token's lifetime has ended. A token whose
// expiry is exactly now is already expired.
func (t *AuthToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid reports whether the token is ACTIVE and not past its expiry.
func (t *AuthToken) IsValid(now time.Time) bool {
	return t.Status == TokenStatusActive && !t.IsExpired(now)
}
