package checks

import (
	"context"

	"github.com/charlesng35/sftpgate/internal/monitoring"
)

// Pinger is the part of a cache store a probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis probes the rate limit store. Rate limiting falls back to process
// memory when Redis is unreachable, so failures only degrade readiness.
func Redis(client Pinger) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable; using in-memory rate limits"}
		}
		if err := client.Ping(ctx); err != nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: err.Error()}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
