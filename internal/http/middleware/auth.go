// README: Firebase ID token authentication with an admin bypass credential.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dispatchd/internal/errs"
	"dispatchd/internal/infra"
)

// AdminHeader carries the shared admin credential used by back-office tools.
const AdminHeader = "X-Admin-Token"

const (
	ctxUID   = "auth.uid"
	ctxAdmin = "auth.admin"
)

// Auth accepts either a valid admin credential (when adminToken is set) or a
// Firebase ID token in "Authorization: Bearer <token>". Tokens carrying an
// admin claim (admin: true or role: "admin") are treated as admin callers.
func Auth(verifier infra.TokenVerifier, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken != "" {
			if got := c.GetHeader(AdminHeader); got != "" {
				if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
					abort(c, http.StatusUnauthorized, errs.Unauthenticated, "invalid admin token")
					return
				}
				c.Set(ctxUID, "admin")
				c.Set(ctxAdmin, true)
				c.Next()
				return
			}
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, http.StatusUnauthorized, errs.Unauthenticated, "missing bearer token")
			return
		}
		if verifier == nil {
			abort(c, http.StatusUnauthorized, errs.Unauthenticated, "token verification unavailable")
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			abort(c, http.StatusUnauthorized, errs.Unauthenticated, "invalid token")
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxAdmin, hasAdminClaim(token.Claims))
		c.Next()
	}
}

func hasAdminClaim(claims map[string]interface{}) bool {
	if v, ok := claims["admin"].(bool); ok && v {
		return true
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}

// RequireAdmin must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			abort(c, http.StatusForbidden, errs.PermissionDenied, "admin only")
			return
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ctxAdmin)
}

func abort(c *gin.Context, status int, kind errs.Kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}
