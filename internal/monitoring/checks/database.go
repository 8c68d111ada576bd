// Package checks provides readiness probes for the gateway's dependencies.
package checks

import (
	"context"

	"gorm.io/gorm"

	"github.com/charlesng35/sftpgate/internal/monitoring"
)

// Database pings the audit store.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError(err)
		}
		return monitoring.ResultFromError(sqlDB.PingContext(ctx))
	})
}
