package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newsplatform/backend/internal/models"
)

// MemoryTokenStore is an in-memory TokenStore used by unit tests. It
// deliberately enforces no uniqueness on token values so the duplicate-row
// anomaly can be staged.
type MemoryTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]*models.AuthToken // by id
	users   *MemoryUserStore
	failErr error
}

func NewMemoryTokenStore(users *MemoryUserStore) *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]*models.AuthToken),
		users:  users,
	}
}

// SetFailure makes every subsequent call return err until reset with nil.
func (s *MemoryTokenStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryTokenStore) Save(ctx context.Context, token *models.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now()
	}
	stored := *token
	stored.User = nil
	s.tokens[stored.ID] = &stored
	return nil
}

func (s *MemoryTokenStore) FindByValue(ctx context.Context, value string) (*models.AuthToken, error) {
	matches, err := s.FindAllByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrTokenNotFound
	case 1:
		return &matches[0], nil
	default:
		return nil, ErrDuplicateValue
	}
}

func (s *MemoryTokenStore) FindAllByValue(ctx context.Context, value string) ([]models.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}

	var matches []models.AuthToken
	for _, t := range s.tokens {
		if t.TokenValue != value {
			continue
		}
		copied := *t
		owner, ok := s.users.lookup(copied.UserID)
		if !ok {
			return nil, ErrOwnerUnavailable
		}
		copied.User = owner
		matches = append(matches, copied)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].IssuedAt.Before(matches[j].IssuedAt)
	})
	return matches, nil
}

func (s *MemoryTokenStore) MarkRevoked(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	t, ok := s.tokens[id]
	if !ok || t.Status != models.TokenStatusActive {
		return false, nil
	}
	t.Status = models.TokenStatusRevoked
	return true, nil
}

func (s *MemoryTokenStore) MarkAllRevokedForOwner(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	var revoked int64
	for _, t := range s.tokens {
		if t.UserID == userID && t.Status == models.TokenStatusActive {
			t.Status = models.TokenStatusRevoked
			revoked++
		}
	}
	return revoked, nil
}

func (s *MemoryTokenStore) IncrementUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if t, ok := s.tokens[id]; ok {
		t.UsageCount++
	}
	return nil
}

func (s *MemoryTokenStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	var deleted int64
	for id, t := range s.tokens {
		if t.Status != models.TokenStatusActive && t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryTokenStore) CountActiveForOwner(ctx context.Context, userID, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	var count int64
	for _, t := range s.tokens {
		if t.UserID == userID && t.Kind == kind && t.Status == models.TokenStatusActive {
			count++
		}
	}
	return count, nil
}

func (s *MemoryTokenStore) DuplicateValues(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	seen := make(map[string]int)
	for _, t := range s.tokens {
		seen[t.TokenValue]++
	}
	var values []string
	for value, n := range seen {
		if n > 1 {
			values = append(values, value)
		}
	}
	return values, nil
}

// Get returns the stored record by id, for test assertions.
func (s *MemoryTokenStore) Get(id string) (models.AuthToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return models.AuthToken{}, false
	}
	return *t, true
}

// MemoryUserStore is an in-memory UserStore used by unit tests.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User // by id
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

func (s *MemoryUserStore) lookup(id string) (*models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	copied := *u
	return &copied, true
}

func (s *MemoryUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := s.lookup(id)
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) FindByHandle(ctx context.Context, handle string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == handle || u.Email == handle {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	copied := *user
	s.users[copied.ID] = &copied
	return nil
}

func (s *MemoryUserStore) Save(ctx context.Context, user *models.User) error {
	return s.Create(ctx, user)
}

func (s *MemoryUserStore) CountByRole(ctx context.Context, role string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, u := range s.users {
		if u.Role == role {
			count++
		}
	}
	return count, nil
}
