package httpserver

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Authorization, Content-Type, X-API-Key, X-Request-ID"
)

// CORS admits browser requests from origins. "*" admits every origin.
// Requests without an Origin header are not browser cross-origin calls and
// pass untouched; a disallowed origin is rejected before any other work.
func CORS(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !allowAll && !slices.Contains(origins, origin) {
			_ = c.Error(apperr.New(apperr.CodeOriginNotAllowed, "").WithMetadata("origin", origin))
			c.Abort()
			return
		}

		h := c.Writer.Header()
		if allowAll {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
