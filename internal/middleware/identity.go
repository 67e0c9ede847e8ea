package middleware

import (
	"net/http"

	"togglr/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityMiddleware verifies the optional X-Identity-Token header and puts
// the caller's identity on the request context, where evaluation uses it to
// fill in user id and groups the request body left out. No token is fine;
// a token that fails verification is not.
//
// An empty signing key disables verification and tokens are ignored.
func IdentityMiddleware(signingKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("X-Identity-Token")
		if tokenString == "" || len(signingKey) == 0 {
			c.Next()
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &service.IdentityClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return signingKey, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid identity token"})
			return
		}

		claims, ok := token.Claims.(*service.IdentityClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		ctx := service.WithIdentity(c.Request.Context(), &service.Identity{
			UserID: claims.UserID,
			Groups: claims.Groups,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
