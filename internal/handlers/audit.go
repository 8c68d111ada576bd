package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/response"
)

// OperationsHandler lists audited file operations.
type OperationsHandler struct {
	svc *services.AuditService
}

func NewOperationsHandler(svc *services.AuditService) *OperationsHandler {
	return &OperationsHandler{svc: svc}
}

// GET /api/operations
func (h *OperationsHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		Operation: c.Query("operation"),
		Success:   parseBoolQuery(c, "success"),
	}
	// Callers scoped to a tenant only ever see their own operations.
	if tenant := tenantID(c); tenant != "" {
		filters.TenantID = tenant
	}

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	opts := services.AuditListOptions{Page: page, PageSize: per, Filters: filters}
	logs, total, err := h.svc.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	page, per = services.NormalizePage(page, per)
	totalPages := int((total + int64(per) - 1) / int64(per))
	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total), TotalPages: totalPages})
}
