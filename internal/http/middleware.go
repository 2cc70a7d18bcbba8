package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"skilllink/internal/domain"
	"skilllink/internal/role"
	"skilllink/internal/service"
)

// TokenCookie is the http-only cookie that carries the access token for
// browser clients.
const TokenCookie = "token"

const (
	ctxUserIDKey = "auth.userID"
	ctxRoleKey   = "auth.role"
)

// TokenVerifier is satisfied by service.TokenManager.
type TokenVerifier interface {
	Verify(raw string) (*service.Claims, error)
}

// requireAuth accepts a bearer token or the token cookie.
func requireAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			raw, _ = c.Cookie(TokenCookie)
		}
		if raw == "" {
			respondUnauthorized(c, "Missing access token")
			return
		}

		claims, err := v.Verify(raw)
		if err != nil {
			respondUnauthorized(c, "Invalid or expired access token")
			return
		}

		c.Set(ctxUserIDKey, claims.UserID())
		c.Set(ctxRoleKey, claims.Role)
		c.Next()
	}
}

// requireRole lets the request through when the caller holds one of allowed.
func requireRole(allowed ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := roleFromContext(c)
		if !ok {
			respondUnauthorized(c, "Missing identity context")
			return
		}
		if !role.Allowed(r, allowed) {
			respondError(c, http.StatusForbidden, "forbidden", "Insufficient role", nil)
			return
		}
		c.Next()
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	_, wildcard := allowed["*"]

	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok || wildcard {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
				c.Header("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func userIDFromContext(c *gin.Context) string {
	return c.GetString(ctxUserIDKey)
}

func roleFromContext(c *gin.Context) (domain.Role, bool) {
	v, ok := c.Get(ctxRoleKey)
	if !ok {
		return domain.RoleNone, false
	}
	r, ok := v.(domain.Role)
	return r, ok && r != domain.RoleNone
}
