package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mfshop/storefront/internal/interfaces/http/dto"
)

// TrustedOrigin rejects requests whose Origin header names an origin the
// checker does not trust. CORS only hides the response from the browser;
// this keeps an untrusted page from changing a basket at all. Requests
// without an Origin header are not cross-origin and pass.
func TrustedOrigin(origins OriginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" || origins.Allows(origin) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeForbidden,
			"Origin is not allowed",
			c.GetString(RequestIDKey),
		))
	}
}
