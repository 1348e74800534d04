// Package middleware carries the gin middleware shared by all routes:
// Casdoor-backed bearer token authentication.
package middleware

import (
	"net/http"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"
)

// TokenParser validates a bearer token and returns its claims. Satisfied by
// *casdoorsdk.Client; tests substitute their own.
type TokenParser interface {
	ParseJwtToken(token string) (*casdoorsdk.Claims, error)
}

// Auth authenticates requests with a Casdoor-issued JWT and stores the
// subject under "user_id" and its role under "user_role" in the gin context.
func Auth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Missing authorization header",
			})
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Authorization header must be a bearer token",
			})
			return
		}

		claims, err := parser.ParseJwtToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set("user_id", claims.User.Id)
		c.Set("user_role", roleOf(&claims.User))
		c.Next()
	}
}

func roleOf(user *casdoorsdk.User) string {
	if user.IsAdmin {
		return "admin"
	}
	// Casdoor carries the LMS role in the user tag.
	switch user.Tag {
	case "teacher", "admin":
		return user.Tag
	default:
		return "student"
	}
}
