package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/auth"
)

const (
	ClaimsKey = "claims"
	UserIDKey = "userID"
)

// AuthMiddleware validates the Bearer token on every protected route.
func AuthMiddleware(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. --- Get Authorization Header ---
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.New(apierror.MsgUnauthorized))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.New("Formato de token inválido"))
			return
		}

		// 2. --- Validate Token ---
		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.New("Token inválido o expirado"))
			return
		}

		// 3. --- Success ---
		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// RequireRole rejects requests whose token role is not in the allowed list.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !allowed[claims.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, apierror.New(apierror.MsgForbidden))
			return
		}
		c.Next()
	}
}

// GetClaims returns the token claims set by AuthMiddleware, or nil.
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
