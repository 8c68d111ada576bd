package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/charlesng35/sftpgate/internal/sftp"
)

// Result is the uniform outcome of a file operation. Failures never escape as
// errors: they set Success to false, describe the problem in Message and
// classify it in Kind.
type Result[T any] struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Kind    sftp.Kind `json:"kind,omitempty"`
	Data    *T        `json:"data,omitempty"`
}

// Err returns the failure as an error carrying its kind, or nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return &OperationError{Kind: r.Kind, Message: r.Message}
}

// OperationError is a failed Result expressed as an error.
type OperationError struct {
	Kind    sftp.Kind
	Message string
}

func (e *OperationError) Error() string { return e.Message }

func succeeded[T any](message string, data T) Result[T] {
	return Result[T]{Success: true, Message: message, Data: &data}
}

func failed[T any](err error) Result[T] {
	return Result[T]{Success: false, Message: err.Error(), Kind: sftp.KindOf(err)}
}

// partialFailure reports an operation that ran to completion but had per-item failures.
// Its payload is still returned to the caller.
type partialFailure struct {
	message string
	first   error
}

func (e *partialFailure) Error() string { return e.message }

func (e *partialFailure) Unwrap() error { return e.first }

func newPartialFailure(failedCount, total int, first error) error {
	return &partialFailure{
		message: fmt.Sprintf("%d of %d file(s) failed", failedCount, total),
		first:   first,
	}
}

func isPartial(err error) bool {
	var partial *partialFailure
	return errors.As(err, &partial)
}

// FileEntry describes one remote directory entry.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	IsDirectory  bool      `json:"is_directory"`
	Mode         string    `json:"mode"`
}

// FileStatus is the per-file outcome inside batch and sync results.
type FileStatus struct {
	FileName   string `json:"file_name"`
	RemotePath string `json:"remote_path,omitempty"`
	Size       int64  `json:"size"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}

type UploadResult struct {
	FileName   string `json:"file_name"`
	RemotePath string `json:"remote_path"`
	Size       int64  `json:"size"`
}

type BatchUploadResult struct {
	RemoteDir      string       `json:"remote_dir"`
	TotalFiles     int          `json:"total_files"`
	ProcessedFiles int          `json:"processed_files"`
	FailedFiles    int          `json:"failed_files"`
	Files          []FileStatus `json:"files"`
}

type DownloadResult struct {
	FileName   string `json:"file_name"`
	RemotePath string `json:"remote_path"`
	Content    []byte `json:"-"`
	Size       int64  `json:"size"`
}

type ListResult struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

type PathResult struct {
	Path string `json:"path"`
}

type MoveResult struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Size        int64  `json:"size,omitempty"`
}

type ChecksumResult struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
}

type SyncResult struct {
	LocalRoot      string        `json:"local_root"`
	RemoteRoot     string        `json:"remote_root"`
	Direction      SyncDirection `json:"direction"`
	TotalFiles     int           `json:"total_files"`
	ProcessedFiles int           `json:"processed_files"`
	FailedFiles    int           `json:"failed_files"`
	Files          []FileStatus  `json:"files"`
}

type ServerInfo struct {
	ServerVersion    string `json:"server_version"`
	ProtocolVersion  int    `json:"protocol_version"`
	IsConnected      bool   `json:"is_connected"`
	WorkingDirectory string `json:"working_directory"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Username         string `json:"username"`
	SessionMode      string `json:"session_mode"`
}

type StatResult struct {
	FileEntry
}
