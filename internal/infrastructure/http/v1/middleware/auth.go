package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"replica/internal/core/apperror"
	"replica/internal/domain/auth"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Auth requires a valid bearer token and stores its claims under KeyClaims.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := validator.Validate(parts[1])
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(KeyClaims, claims)
		c.Next()
	}
}

// RequireScope rejects requests whose token does not grant scope. Requests
// that passed no Auth middleware are let through.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(KeyClaims)
		if !ok {
			c.Next()
			return
		}
		if claims, _ := v.(*auth.Claims); claims == nil || !claims.Allows(scope) {
			_ = c.Error(apperror.NewForbidden(scope))
			c.Abort()
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
