package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medscan/internal/pkg/jwtutil"
	"medscan/internal/transport/http/response"
)

const (
	ContextUserIDKey = "user_id"
	ContextEmailKey  = "email"
	ContextClaimsKey = "claims"
)

type Authenticator interface {
	Authenticate(token string) (*jwtutil.Claims, error)
}

// ErrorWriter writes a rejection and aborts the chain.
type ErrorWriter func(c *gin.Context, httpStatus, code int, message string)

// PredictErrors rejects in the inference API's {"error": msg} shape.
func PredictErrors(c *gin.Context, httpStatus, _ int, message string) {
	response.PredictError(c, httpStatus, message)
	c.Abort()
}

func AuthJWT(auth Authenticator) gin.HandlerFunc {
	return AuthJWTWith(auth, response.Abort)
}

// AuthJWTWith is AuthJWT with a custom rejection format.
func AuthJWTWith(auth Authenticator, reject ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			reject(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			reject(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := auth.Authenticate(token)
		if err != nil {
			reject(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextEmailKey, claims.Email)
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthJWT.
func UserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func Claims(c *gin.Context) (*jwtutil.Claims, bool) {
	v, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwtutil.Claims)
	return claims, ok
}
