package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/realtime"
	"github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/response"
)

// ProgressHandler upgrades HTTP connections into progress WebSocket streams.
// Connections are owned by the request's tenant and only see that tenant's progress.
type ProgressHandler struct {
	hub *realtime.Hub
}

func NewProgressHandler(hub *realtime.Hub) *ProgressHandler {
	return &ProgressHandler{hub: hub}
}

// GET /api/progress/ws?stream=
func (h *ProgressHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	h.hub.Serve(tenantID(c), gatherStreams(c), c.Writer, c.Request)
}

// gatherStreams reads ?stream= and ?streams=a,b. Bare ids become progress streams.
func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		streams = append(streams, progressStream(queryStream))
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			streams = append(streams, progressStream(part))
		}
	}

	return uniqueStreams(streams)
}

func progressStream(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || strings.HasPrefix(value, realtime.StreamProgressPrefix) {
		return value
	}
	return realtime.ProgressStream(value)
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
