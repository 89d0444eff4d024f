// README: Actor identity middleware: Firebase ID tokens, or actor headers from a trusted gateway.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"karigar/internal/infra"
	"karigar/internal/types"
)

const (
	ctxKeyUID  = "caller_uid"
	ctxKeyRole = "caller_role"

	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Auth verifies the bearer token and stores the caller's uid and role claim.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxKeyUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

// TrustedActor reads the actor from gateway headers. Requests without
// headers pass through anonymously.
func TrustedActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		role := strings.TrimSpace(c.GetHeader(HeaderActorRole))
		if role != "" && !types.Role(role).Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown actor role"})
			return
		}
		if id != "" {
			c.Set(ctxKeyUID, id)
		}
		if role != "" {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// Actor returns the caller as recorded in booking audit events.
func Actor(c *gin.Context) types.Actor {
	a := types.Actor{ID: types.ID(CallerUID(c))}
	if r := types.Role(CallerRole(c)); r.Valid() {
		a.Role = r
	}
	return a
}
