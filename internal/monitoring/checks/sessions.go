package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/sftpgate/internal/monitoring"
	"github.com/charlesng35/sftpgate/internal/session"
)

// Sessions reports the session manager state without opening a connection.
// A shut down manager is down; a pool with every slot borrowed is degraded.
// A shared session never saturates.
func Sessions(manager session.Manager) monitoring.Check {
	return monitoring.NewCheck("sessions", func(context.Context) monitoring.ProbeResult {
		if manager == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "session manager not configured"}
		}

		stats := manager.Stats()
		switch {
		case stats.Closed:
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "session manager is shut down", Data: stats}
		case manager.Mode() == session.ModeExclusive && stats.InUse >= int64(stats.MaxSize):
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: fmt.Sprintf("all %d sessions in use", stats.MaxSize),
				Data:    stats,
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Data: stats}
	})
}
