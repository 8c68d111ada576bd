package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/internal/sftp"
	appErrors "github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/response"
)

// kindError maps a failed operation onto the HTTP error envelope.
func kindError(kind sftp.Kind, message string) *appErrors.AppError {
	switch kind {
	case sftp.KindValidation:
		return appErrors.NewBadRequest(message)
	case sftp.KindNotFound:
		return appErrors.ErrNotFound.WithMessage(message)
	case sftp.KindConnection:
		return appErrors.ErrUpstreamUnavailable.WithMessage(message)
	case sftp.KindTransfer:
		return appErrors.ErrTransferFailed.WithMessage(message)
	default:
		return appErrors.ErrInternalServer.WithMessage(message)
	}
}

// writeResult renders a file operation result. Only batches and syncs fail
// with a payload; they answer 207 so callers can inspect per-file outcomes.
func writeResult[T any](c *gin.Context, status int, result services.Result[T]) {
	if result.Success {
		response.SuccessWithMessage(c, status, result.Message, result.Data)
		return
	}
	if result.Data != nil {
		response.ErrorWithData(c, appErrors.New("PARTIAL_FAILURE", result.Message, http.StatusMultiStatus), result.Data)
		return
	}
	response.Error(c, kindError(result.Kind, result.Message))
}
