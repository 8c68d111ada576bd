package sftp

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgsftp "github.com/pkg/sftp"
)

// Kind classifies failures surfaced by file operations.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindConnection    Kind = "connection"
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindTransfer      Kind = "transfer"
	KindUnknown       Kind = "unknown"
)

var (
	// ErrConfiguration marks missing or conflicting connection settings. It is fatal at startup.
	ErrConfiguration = errors.New("invalid sftp configuration")
	// ErrConnection marks a session that could not be established.
	ErrConnection = errors.New("sftp connection failed")
	// ErrNotFound marks an absent remote file or directory.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks caller input rejected before any remote call.
	ErrValidation = errors.New("invalid input")
	// ErrTransfer marks an I/O failure while streaming file content.
	ErrTransfer = errors.New("transfer failed")
)

// ConnectError is returned once every connection attempt has failed.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("sftp: connect failed after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap exposes both ErrConnection and the last dial error.
func (e *ConnectError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// Validationf builds an ErrValidation error with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound error with a formatted subject.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Transfer wraps a streaming failure.
func Transfer(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransfer, err)
}

// IsNotExist reports whether err means the remote path does not exist.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrNotFound) {
		return true
	}
	var statusErr *pkgsftp.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.FxCode() == pkgsftp.ErrSSHFxNoSuchFile
	}
	return false
}

// KindOf classifies err. A nil error has an empty kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConnection):
		return KindConnection
	case IsNotExist(err):
		return KindNotFound
	case errors.Is(err, ErrTransfer), errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransfer
	default:
		return KindUnknown
	}
}
