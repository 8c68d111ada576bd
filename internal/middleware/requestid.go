package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/charlesng35/sftpgate/internal/auditctx"
)

const (
	// HeaderRequestID carries the correlation id in both directions.
	HeaderRequestID = "X-Request-ID"
	// CtxRequestIDKey is the gin context key holding the request id.
	CtxRequestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestID assigns every request a correlation id, reusing a well-formed inbound
// X-Request-ID, and exposes it to audit records through the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		c.Set(CtxRequestIDKey, id)
		c.Header(HeaderRequestID, id)

		ctx := auditctx.WithRequest(c.Request.Context(), auditctx.Request{
			RequestID: id,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
