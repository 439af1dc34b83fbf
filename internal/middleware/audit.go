package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newsplatform/backend/internal/services"
)

// AuditWrites records admin write operations (POST/PUT/DELETE) to audit_logs.
func AuditWrites() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		// Capture request body (up to 2000 chars for Extra)
		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = string(bodyBytes)
			if len(bodySnippet) > 2000 {
				bodySnippet = bodySnippet[:2000] + "...[truncated]"
			}
			bodySnippet = maskSensitiveFields(bodySnippet)
		}

		c.Next()

		userID := GetUserID(c)
		username := GetUsername(c)
		status := c.Writer.Status()

		var uid *string
		if userID != "" {
			uid = &userID
		}

		message := fmt.Sprintf("%s %s %s -> %d", username, method, c.Request.URL.Path, status)
		services.LogInfo("admin", strings.ToLower(method), message, uid, c.ClientIP(), c.Request.UserAgent(), map[string]interface{}{
			"method": method,
			"path":   c.Request.URL.Path,
			"status": status,
			"body":   bodySnippet,
		})
	}
}

var sensitiveFields = []string{"password", "old_password", "new_password", "refresh_token", "access_token"}

// maskSensitiveFields blanks out credential material in a JSON body snippet.
func maskSensitiveFields(body string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return body
	}
	masked := false
	for _, field := range sensitiveFields {
		if _, ok := payload[field]; ok {
			payload[field] = "***"
			masked = true
		}
	}
	if !masked {
		return body
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return string(b)
}
