// README: Bearer-token auth middleware; resolves the caller to an id and a role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridematch/internal/infra"
	"ridematch/internal/types"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"

	roleClaim = "role"
)

// Auth verifies the bearer token and stores the caller's uid and role on the context.
// Tokens without a recognised role claim are treated as passengers.
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
		role := types.RolePassenger
		if v, ok := token.Claims[roleClaim].(string); ok && types.Role(v).Valid() {
			role = types.Role(v)
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, string(role))
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

func CallerIdentity(c *gin.Context) types.Identity {
	return types.Identity{ID: types.ID(CallerUID(c)), Role: types.Role(CallerRole(c))}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := types.Role(CallerRole(c))
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: " + string(roles[0]) + " role required"})
	}
}
