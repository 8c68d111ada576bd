package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/remotepath"
	appErrors "github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/response"
)

const (
	// HeaderTenantID selects the tenant whose root directory scopes the request.
	HeaderTenantID = "X-Tenant-ID"
	// CtxTenantIDKey is the gin context key holding the tenant id.
	CtxTenantIDKey = "tenant_id"
)

// Tenant reads X-Tenant-ID and stores it on the request context for path
// resolution. When required is set, requests without a tenant are rejected.
func Tenant(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if tenant == "" {
			if required {
				response.Error(c, appErrors.NewBadRequest(HeaderTenantID+" header is required"))
				c.Abort()
				return
			}
			c.Next()
			return
		}

		if !remotepath.ValidTenant(tenant) {
			response.Error(c, appErrors.NewBadRequest("invalid "+HeaderTenantID+" header"))
			c.Abort()
			return
		}

		c.Set(CtxTenantIDKey, tenant)
		c.Request = c.Request.WithContext(remotepath.WithTenant(c.Request.Context(), tenant))
		c.Next()
	}
}
