package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// CheckSingleDeviceLogin validates the JWT's JTI against the pinned login in
// Redis. A mismatch means the login was reset or superseded; the request is
// rejected so a second device cannot ride an old token into an exam.
func CheckSingleDeviceLogin(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		// Only students are device-pinned.
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		if err := authService.ValidateStudentLogin(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrDeviceConflict)
			return
		}

		c.Next()
	}
}
