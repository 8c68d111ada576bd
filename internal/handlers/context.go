package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// tenantID returns the tenant resolved by middleware.Tenant, if any.
func tenantID(c *gin.Context) string {
	return c.GetString(middleware.CtxTenantIDKey)
}
