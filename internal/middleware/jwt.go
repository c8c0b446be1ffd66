package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-runner/internal/backend"
	"github.com/stemsi/exstem-runner/internal/response"
)

const (
	// ContextKeyClaims is the Gin context key for the student's JWT claims.
	ContextKeyClaims = "claims"
)

// ClaimsSource exposes the runner's stored student token.
type ClaimsSource interface {
	Claims() (*backend.StudentClaims, error)
}

// RequireAuthenticated lets a request through only while the runner holds a
// usable student token. The UI never sees the token itself.
func RequireAuthenticated(auth ClaimsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.Claims()
		if err != nil {
			switch {
			case errors.Is(err, backend.ErrNotAuthenticated):
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			case errors.Is(err, backend.ErrTokenExpired):
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
			default:
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			}
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the student claims from the Gin context.
func GetClaims(c *gin.Context) *backend.StudentClaims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*backend.StudentClaims)
	if !ok {
		return nil
	}
	return claims
}
