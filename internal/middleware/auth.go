package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newsplatform/backend/internal/models"
	"github.com/newsplatform/backend/internal/services"
	"github.com/newsplatform/backend/pkg/logger"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
	ContextUser     = "current_user"
)

// Authenticate resolves the bearer token and attaches the user to the request
// context. It fails open: a missing, invalid or unresolvable token leaves the
// request anonymous and never aborts it, so a public route still succeeds
// when the token store is down. Protected routes layer AuthRequired on top.
func Authenticate(sessions *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenValue := extractBearer(c)
		if tokenValue == "" {
			c.Next()
			return
		}

		user, err := sessions.ValidateAccess(c.Request.Context(), tokenValue)
		if err != nil {
			logger.Debug().Err(err).Msg("bearer token rejected, request proceeds anonymous")
			c.Next()
			return
		}

		// Bound to this request's context only; gin contexts are per-request,
		// so the identity cannot leak across requests.
		c.Set(ContextUserID, user.ID)
		c.Set(ContextUsername, user.Username)
		c.Set(ContextRole, user.Role)
		c.Set(ContextUser, user)

		c.Next()
	}
}

// AuthRequired rejects requests that Authenticate left anonymous.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextUser); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RoleRequired rejects authenticated users whose role is not in the allowed set.
func RoleRequired(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		if r, ok := role.(string); !ok || !allowed[r] {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRequired allows only administrators.
func AdminRequired() gin.HandlerFunc {
	return RoleRequired(models.RoleAdmin)
}

// EditorRequired allows editors and administrators.
func EditorRequired() gin.HandlerFunc {
	return RoleRequired(models.RoleEditor, models.RoleAdmin)
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetUserID gets the current user ID from context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(ContextUserID); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// GetUsername gets the current username from context.
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		if s, ok := username.(string); ok {
			return s
		}
	}
	return ""
}

// GetRole gets the current user role from context.
func GetRole(c *gin.Context) string {
	if role, exists := c.Get(ContextRole); exists {
		if s, ok := role.(string); ok {
			return s
		}
	}
	return ""
}

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(c *gin.Context) *models.User {
	if u, exists := c.Get(ContextUser); exists {
		if user, ok := u.(*models.User); ok {
			return user
		}
	}
	return nil
}
