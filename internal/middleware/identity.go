package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ticketblitz/ticketing/internal/response"
)

const userIDKey = "user_id"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// IdentityConfig holds identity middleware settings
type IdentityConfig struct {
	// JWTSecret verifies bearer tokens
	JWTSecret string
	// AllowHeaderFallback accepts a plain X-User-ID header when no bearer
	// token is present. Load-test and development convenience; off in
	// production.
	AllowHeaderFallback bool
	// Optional lets requests without credentials pass through with no
	// identity set. Handlers that accept an explicit user id in the request
	// body or query run in this mode; credentials that are present are
	// still verified and rejected if invalid.
	Optional bool
}

// Identity resolves the calling user and stores the user ID in the gin
// context. Requests without a resolvable identity are rejected with 401
// unless the middleware runs in Optional mode.
func Identity(cfg *IdentityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if cfg.AllowHeaderFallback {
				if userID := c.GetHeader("X-User-ID"); userID != "" {
					c.Set(userIDKey, userID)
					c.Next()
					return
				}
			}
			if cfg.Optional {
				c.Next()
				return
			}
			response.Unauthorized(c, "Authorization header is required")
			c.Abort()
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		userID, err := validateToken(authHeader[len(bearerPrefix):], cfg.JWTSecret)
		if err != nil {
			response.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// validateToken verifies an HS256 token and returns its user_id claim
func validateToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	userID, ok := claims[userIDKey].(string)
	if !ok || userID == "" {
		// Fall back to the standard subject claim
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
		return "", ErrInvalidToken
	}
	return userID, nil
}

// UserID returns the authenticated user ID from the gin context
func UserID(c *gin.Context) (string, error) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return "", fmt.Errorf("user identity missing from context")
	}
	userID, ok := v.(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user identity missing from context")
	}
	return userID, nil
}
