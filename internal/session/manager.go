// Package session owns SFTP connections and loans them to file operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/sftpgate/internal/sftp"
)

// ErrManagerClosed is returned by Acquire after Shutdown.
var ErrManagerClosed = errors.New("session: manager is shut down")

// Mode describes how handles are shared between concurrent operations.
type Mode int

const (
	// ModeExclusive loans each handle to exactly one operation at a time.
	ModeExclusive Mode = iota
	// ModeShared hands the same handle to every caller.
	ModeShared
)

func (m Mode) String() string {
	if m == ModeShared {
		return "shared"
	}
	return "exclusive"
}

// Policy names accepted by New.
const (
	PolicyPooled = "pooled"
	PolicySingle = "single"
)

// DefaultMaxPoolSize bounds a pool when no size is configured.
const DefaultMaxPoolSize = 5

// Connector establishes new connections. *sftp.Factory implements it.
type Connector interface {
	Connect(ctx context.Context) (sftp.Conn, error)
}

// Stats is a point-in-time view of a manager.
type Stats struct {
	Mode      string `json:"mode"`
	MaxSize   int    `json:"max_size"`
	InUse     int64  `json:"in_use"`
	Idle      int    `json:"idle"`
	Created   int64  `json:"created"`
	Discarded int64  `json:"discarded"`
	Closed    bool   `json:"closed"`
}

// Manager hands out connections. Every successful Acquire must be paired with
// exactly one Release of the same handle.
type Manager interface {
	Acquire(ctx context.Context) (sftp.Conn, error)
	Release(conn sftp.Conn)
	Mode() Mode
	Stats() Stats
	// Prune closes held handles whose transport has gone away and returns how many were closed.
	Prune() int
	Shutdown(ctx context.Context) error
}

// With acquires a handle, runs fn, and releases the handle on every exit path including panics.
func With(ctx context.Context, m Manager, fn func(conn sftp.Conn) error) error {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.Release(conn)
	return fn(conn)
}

// Options selects and sizes a manager.
type Options struct {
	Policy  string
	MaxSize int
}

// New builds the manager named by opts.Policy. An empty policy selects the pool.
func New(connector Connector, opts Options) (Manager, error) {
	if connector == nil {
		return nil, errors.New("session: connector is required")
	}
	switch strings.ToLower(strings.TrimSpace(opts.Policy)) {
	case "", PolicyPooled:
		return NewPool(connector, opts.MaxSize), nil
	case PolicySingle:
		return NewSingle(connector), nil
	default:
		return nil, fmt.Errorf("session: unknown policy %q", opts.Policy)
	}
}
