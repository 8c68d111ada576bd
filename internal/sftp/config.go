package sftp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 30 * time.Second
)

// Config holds the immutable connection parameters for the backing SFTP server.
type Config struct {
	Host     string
	Port     int
	Username string

	// Password and PrivateKeyPath are mutually exclusive.
	Password       string
	PrivateKeyPath string
	Passphrase     string

	ConnectTimeout time.Duration

	// RootDirectory may embed the {tenantId} placeholder.
	RootDirectory string

	// KnownHostsFile enables host key verification. When empty the host key is not verified.
	KnownHostsFile string
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	c.Host = strings.TrimSpace(c.Host)
	c.Username = strings.TrimSpace(c.Username)
	c.PrivateKeyPath = strings.TrimSpace(c.PrivateKeyPath)
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if strings.TrimSpace(c.RootDirectory) == "" {
		c.RootDirectory = "/"
	}
	return c
}

// Validate checks required fields and that exactly one credential mechanism is configured.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Host) == "" {
		problems = append(problems, "host is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		problems = append(problems, "username is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Port))
	}

	hasPassword := c.Password != ""
	hasKey := strings.TrimSpace(c.PrivateKeyPath) != ""
	switch {
	case hasPassword && hasKey:
		problems = append(problems, "configure either password or private_key_path, not both")
	case !hasPassword && !hasKey:
		problems = append(problems, "password or private_key_path is required")
	}
	if c.Passphrase != "" && !hasKey {
		problems = append(problems, "passphrase requires private_key_path")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
}

// Address returns host:port for dialing.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// UsesPrivateKey reports whether key authentication is selected. Keys win over passwords.
func (c Config) UsesPrivateKey() bool {
	return strings.TrimSpace(c.PrivateKeyPath) != ""
}
