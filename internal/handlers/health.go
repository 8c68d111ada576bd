package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/monitoring"
	"github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/response"
)

// Health returns a simple status payload useful for liveness checks.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Ready evaluates the readiness probes. Any probe that is down answers 503.
func Ready(checker *monitoring.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := checker.Evaluate(c.Request.Context())
		if !report.Ready {
			response.ErrorWithData(c, errors.ErrUpstreamUnavailable.WithMessage("service is not ready"), report)
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
