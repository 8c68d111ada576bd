package app

import (
	"strings"

	"github.com/charlesng35/sftpgate/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server section, defaulting to info level JSON.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{Level: level, Format: cfg.LogFormat})
}
