package sftp

import (
	"context"
	"io"
	"os"
)

// ReadableFile provides streaming read access to remote files.
type ReadableFile interface {
	io.ReadCloser
}

// WritableFile exposes streaming write access to remote files.
type WritableFile interface {
	io.WriteCloser
}

// Client exposes the subset of SFTP operations required by the gateway.
type Client interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Open(path string) (ReadableFile, error)
	Create(path string) (WritableFile, error)
	Mkdir(path string) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Getwd() (string, error)
}

// Conn is an authenticated, connected session to one SFTP server.
type Conn interface {
	Client

	// IsConnected reports whether the underlying transport is still alive.
	IsConnected() bool
	// SupportsConcurrentUse reports whether several goroutines may issue calls on the
	// same handle at once. Managers sharing one handle must honour it.
	SupportsConcurrentUse() bool
	// ServerVersion returns the SSH identification string announced by the server.
	ServerVersion() string
	// ProtocolVersion returns the negotiated SFTP protocol version.
	ProtocolVersion() int
	Close() error
}

// Dialer opens a new Conn. Each call must either return a live Conn or release
// every resource it opened.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
