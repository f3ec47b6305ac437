package middleware

import (
	"strings"

	"meetsfu/internal/core/services"
	"meetsfu/pkg/errors"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError("bearer token required"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.Error(errors.NewUnauthorizedError(err.Error()))
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware stores the claims of a valid token when one is sent.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(claimsKey, claims)
			}
		}
		c.Next()
	}
}

// RequireHost allows only requests authenticated with a host token. It must
// run after AuthMiddleware.
func RequireHost() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok || !claims.Host {
			c.Error(errors.NewForbiddenError("host token required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by the auth middlewares.
func ClaimsFrom(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}
