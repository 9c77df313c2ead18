package auth

import (
	"github.com/gin-gonic/gin"
	"net/http"
	"strings"
)

const (
	CookieName = "access_token"
	Me         = "me"

	userIDKey = "auth.user_id"
)

// Identity reads a bearer token from the Authorization header or the
// access_token cookie. Requests without a token go through anonymously; a
// token that does not validate is rejected with 401.
func Identity(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
				return
			}
			token = parts[1]
		} else if cookie, err := c.Cookie(CookieName); err == nil {
			token = cookie
		}
		if token == "" {
			c.Next()
			return
		}

		claims, err := ValidateToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated user of the request, if any.
func UserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDKey)
	return userID, userID != ""
}

// ResolveUser substitutes "me" with the authenticated user. Other ids are
// returned as given.
func ResolveUser(c *gin.Context, uid string) (string, error) {
	if uid != Me {
		return uid, nil
	}
	userID, ok := UserID(c)
	if !ok {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// ActingUser resolves uid for requests that change state on the user's
// behalf: an identity is required and must match uid.
func ActingUser(c *gin.Context, uid string) (string, error) {
	userID, ok := UserID(c)
	if !ok {
		return "", ErrUnauthenticated
	}
	if uid != Me && uid != userID {
		return "", ErrForbidden
	}
	return userID, nil
}
