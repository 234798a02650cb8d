package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// authCtxKey is the Gin context key used to store the resolved Context.
const authCtxKey = "auth_context"

// Middleware resolves the request credential and stores the Context on the
// gin context. Failures are recorded with c.Error for the error stage to render.
//
// Credentials are read from "Authorization: Bearer <key-or-token>", falling
// back to the X-API-Key header.
func Middleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac, err := resolver.Resolve(c.Request.Context(), credentialFrom(c))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(authCtxKey, ac)
		c.Next()
	}
}

// FromGin returns the authenticated Context for the request.
func FromGin(c *gin.Context) (Context, bool) {
	v, ok := c.Get(authCtxKey)
	if !ok {
		return Context{}, false
	}
	ac, ok := v.(Context)
	return ac, ok
}

func credentialFrom(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		scheme, value, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return h
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}
