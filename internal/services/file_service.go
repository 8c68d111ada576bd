package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sftpgate/internal/remotepath"
	"github.com/charlesng35/sftpgate/internal/session"
	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/pkg/logger"
	"github.com/charlesng35/sftpgate/pkg/metrics"
)

// ServerIdentity is the connection target reported by GetServerInfo.
type ServerIdentity struct {
	Host     string
	Port     int
	Username string
}

// OperationRecord summarises one finished file operation for auditing.
type OperationRecord struct {
	Operation string
	Path      string
	Target    string
	TenantID  string
	Success   bool
	ErrorKind string
	Message   string
	Bytes     int64
	Duration  time.Duration
}

// OperationRecorder persists operation records. Record must not fail the operation.
type OperationRecorder interface {
	Record(ctx context.Context, rec OperationRecord)
}

// FileServiceOption customises a FileService.
type FileServiceOption func(*FileService)

// WithRecorder audits every operation through rec.
func WithRecorder(rec OperationRecorder) FileServiceOption {
	return func(s *FileService) {
		s.recorder = rec
	}
}

// FileService performs remote file operations on sessions borrowed from a manager.
type FileService struct {
	manager  session.Manager
	resolver *remotepath.Resolver
	server   ServerIdentity
	recorder OperationRecorder
	log      *zap.Logger
}

// NewFileService constructs a FileService.
func NewFileService(manager session.Manager, resolver *remotepath.Resolver, server ServerIdentity, opts ...FileServiceOption) (*FileService, error) {
	if manager == nil {
		return nil, errors.New("file service: session manager is required")
	}
	if resolver == nil {
		resolver = remotepath.NewResolver("/")
	}
	svc := &FileService{
		manager:  manager,
		resolver: resolver,
		server:   server,
		log:      logger.WithModule("file_service"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Manager exposes the session manager, mainly for readiness reporting.
func (s *FileService) Manager() session.Manager {
	return s.manager
}

type operation struct {
	name    string
	path    string
	target  string
	okMsg   string
	bytes   int64
	started time.Time
}

func newOperation(name string) *operation {
	return &operation{name: name, started: time.Now()}
}

// execute runs fn on a borrowed session and converts any failure, including a
// panic, into a failed Result. The session is released on every path.
func execute[T any](ctx context.Context, s *FileService, op *operation, fn func(conn sftp.Conn) (T, error)) (result Result[T]) {
	var data T
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("file operation panicked", zap.String("operation", op.name), zap.Any("panic", r))
				err = fmt.Errorf("%s: unexpected failure: %v", op.name, r)
			}
		}()
		return session.With(ctx, s.manager, func(conn sftp.Conn) error {
			var fnErr error
			data, fnErr = fn(conn)
			return fnErr
		})
	}()

	s.finish(ctx, op, err)
	if err != nil {
		result = failed[T](err)
		if isPartial(err) {
			result.Data = &data
		}
		return result
	}
	return succeeded(op.okMsg, data)
}

// reject fails an operation before any session is acquired.
func reject[T any](ctx context.Context, s *FileService, op *operation, err error) Result[T] {
	s.finish(ctx, op, err)
	return failed[T](err)
}

func (s *FileService) finish(ctx context.Context, op *operation, err error) {
	elapsed := time.Since(op.started)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.Operations.WithLabelValues(op.name, outcome).Inc()
	metrics.OperationLatency.WithLabelValues(op.name).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("operation", op.name),
		zap.String("path", op.path),
		zap.Duration("duration", elapsed),
	}
	if op.target != "" {
		fields = append(fields, zap.String("target", op.target))
	}
	if err != nil {
		kind := sftp.KindOf(err)
		fields = append(fields, zap.String("kind", string(kind)), zap.Error(err))
		if kind == sftp.KindValidation || kind == sftp.KindNotFound {
			s.log.Info("file operation rejected", fields...)
		} else {
			s.log.Warn("file operation failed", fields...)
		}
	} else {
		s.log.Debug("file operation completed", fields...)
	}

	if s.recorder == nil {
		return
	}
	rec := OperationRecord{
		Operation: op.name,
		Path:      op.path,
		Target:    op.target,
		Success:   err == nil,
		Bytes:     op.bytes,
		Duration:  elapsed,
	}
	if tenant, ok := remotepath.TenantFrom(ctx); ok {
		rec.TenantID = tenant
	}
	if err != nil {
		rec.ErrorKind = string(sftp.KindOf(err))
		rec.Message = err.Error()
	}
	s.recorder.Record(ctx, rec)
}

func requirePath(p, field string) error {
	if strings.TrimSpace(p) == "" {
		return sftp.Validationf("%s is required", field)
	}
	return nil
}

// baseName reduces a client supplied file name to its last element.
func baseName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	base := path.Base(name)
	if name == "" || base == "." || base == "/" || base == ".." {
		return "", sftp.Validationf("file name is required")
	}
	return base, nil
}

func (s *FileService) probeFile(conn sftp.Conn, p string) (sftp.ProbeResult, error) {
	probe := sftp.Probe(conn, p)
	switch probe.State {
	case sftp.ProbeNotExists:
		return probe, sftp.NotFoundf("%s", p)
	case sftp.ProbeFailed:
		return probe, fmt.Errorf("stat %s: %w", p, probe.Err)
	}
	return probe, nil
}

func writeRemote(conn sftp.Conn, target string, content io.Reader) (int64, error) {
	w, err := conn.Create(target)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, copyErr := io.Copy(w, content)
	closeErr := w.Close()
	if copyErr != nil {
		return n, sftp.Transfer("write "+target, copyErr)
	}
	if closeErr != nil {
		return n, sftp.Transfer("close "+target, closeErr)
	}
	return n, nil
}

// UploadFile streams content to remoteDir/originalName, creating missing directories.
func (s *FileService) UploadFile(ctx context.Context, content io.Reader, length int64, originalName, remoteDir string, obs Observer) Result[UploadResult] {
	op := newOperation("upload")
	if content == nil || length == 0 {
		return reject[UploadResult](ctx, s, op, sftp.Validationf("file is empty"))
	}
	name, err := baseName(originalName)
	if err != nil {
		return reject[UploadResult](ctx, s, op, err)
	}
	dir, err := s.resolver.Resolve(ctx, remoteDir)
	if err != nil {
		return reject[UploadResult](ctx, s, op, err)
	}
	target, err := remotepath.Join(dir, name)
	if err != nil {
		return reject[UploadResult](ctx, s, op, err)
	}
	op.path = target
	op.okMsg = fmt.Sprintf("File %s uploaded", name)

	return execute(ctx, s, op, func(conn sftp.Conn) (UploadResult, error) {
		if err := sftp.EnsureDir(conn, dir); err != nil {
			return UploadResult{}, err
		}
		n, err := writeRemote(conn, target, newProgressReader(content, name, length, obs))
		op.bytes = n
		metrics.BytesTransferred.WithLabelValues("upload").Add(float64(n))
		if err != nil {
			return UploadResult{}, err
		}
		return UploadResult{FileName: name, RemotePath: target, Size: n}, nil
	})
}

// UploadItem is one file of a batch upload.
type UploadItem struct {
	Name    string
	Content io.Reader
	Size    int64
}

// UploadFiles uploads files one after another on a single session. The batch
// succeeds only when every file does; per-file outcomes are always returned.
func (s *FileService) UploadFiles(ctx context.Context, files []UploadItem, remoteDir string, obs Observer) Result[BatchUploadResult] {
	op := newOperation("upload_batch")
	if len(files) == 0 {
		return reject[BatchUploadResult](ctx, s, op, sftp.Validationf("no files provided"))
	}
	dir, err := s.resolver.Resolve(ctx, remoteDir)
	if err != nil {
		return reject[BatchUploadResult](ctx, s, op, err)
	}
	op.path = dir
	op.okMsg = fmt.Sprintf("%d file(s) uploaded", len(files))
	obs = observerOrNop(obs)

	return execute(ctx, s, op, func(conn sftp.Conn) (BatchUploadResult, error) {
		result := BatchUploadResult{RemoteDir: dir, TotalFiles: len(files)}
		if err := sftp.EnsureDir(conn, dir); err != nil {
			return result, err
		}

		var firstErr error
		for _, item := range files {
			status, err := s.uploadItem(conn, dir, item, obs)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			op.bytes += status.Size
			result.ProcessedFiles++
			if !status.Success {
				result.FailedFiles++
			}
			result.Files = append(result.Files, status)
			obs.OnBatch(BatchProgress{
				TotalFiles:     result.TotalFiles,
				ProcessedFiles: result.ProcessedFiles,
				FailedFiles:    result.FailedFiles,
				CurrentFile:    status.FileName,
			})
		}
		if result.FailedFiles > 0 {
			return result, newPartialFailure(result.FailedFiles, result.TotalFiles, firstErr)
		}
		return result, nil
	})
}

func (s *FileService) uploadItem(conn sftp.Conn, dir string, item UploadItem, obs Observer) (FileStatus, error) {
	status := FileStatus{FileName: item.Name}
	fail := func(err error) (FileStatus, error) {
		status.Message = err.Error()
		return status, err
	}

	if item.Content == nil || item.Size == 0 {
		return fail(sftp.Validationf("file %q is empty", item.Name))
	}
	name, err := baseName(item.Name)
	if err != nil {
		return fail(err)
	}
	status.FileName = name
	target, err := remotepath.Join(dir, name)
	if err != nil {
		return fail(err)
	}
	status.RemotePath = target

	n, err := writeRemote(conn, target, newProgressReader(item.Content, name, item.Size, obs))
	status.Size = n
	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(n))
	if err != nil {
		return fail(err)
	}
	status.Success = true
	return status, nil
}

// DownloadFile reads a remote file into memory.
func (s *FileService) DownloadFile(ctx context.Context, remotePath string) Result[DownloadResult] {
	op := newOperation("download")
	if err := requirePath(remotePath, "path"); err != nil {
		return reject[DownloadResult](ctx, s, op, err)
	}
	target, err := s.resolver.Resolve(ctx, remotePath)
	if err != nil {
		return reject[DownloadResult](ctx, s, op, err)
	}
	op.path = target
	op.okMsg = "File downloaded"

	return execute(ctx, s, op, func(conn sftp.Conn) (DownloadResult, error) {
		probe, err := s.probeFile(conn, target)
		if err != nil {
			return DownloadResult{}, err
		}
		if probe.IsDir {
			return DownloadResult{}, sftp.Validationf("%s is a directory", target)
		}

		r, err := conn.Open(target)
		if err != nil {
			return DownloadResult{}, fmt.Errorf("open %s: %w", target, err)
		}
		defer r.Close()

		content, err := io.ReadAll(r)
		op.bytes = int64(len(content))
		metrics.BytesTransferred.WithLabelValues("download").Add(float64(len(content)))
		if err != nil {
			return DownloadResult{}, sftp.Transfer("read "+target, err)
		}
		return DownloadResult{
			FileName:   path.Base(target),
			RemotePath: target,
			Content:    content,
			Size:       int64(len(content)),
		}, nil
	})
}

// DeleteFile removes a file or an empty directory.
func (s *FileService) DeleteFile(ctx context.Context, remotePath string) Result[PathResult] {
	op := newOperation("delete")
	if err := requirePath(remotePath, "path"); err != nil {
		return reject[PathResult](ctx, s, op, err)
	}
	target, err := s.resolver.Resolve(ctx, remotePath)
	if err != nil {
		return reject[PathResult](ctx, s, op, err)
	}
	root, err := s.resolver.Root(ctx)
	if err != nil {
		return reject[PathResult](ctx, s, op, err)
	}
	if target == root {
		return reject[PathResult](ctx, s, op, sftp.Validationf("refusing to delete the root directory"))
	}
	op.path = target
	op.okMsg = "File deleted"

	return execute(ctx, s, op, func(conn sftp.Conn) (PathResult, error) {
		if _, err := s.probeFile(conn, target); err != nil {
			return PathResult{}, err
		}
		if err := conn.Remove(target); err != nil {
			return PathResult{}, fmt.Errorf("remove %s: %w", target, err)
		}
		return PathResult{Path: target}, nil
	})
}

// ListFiles lists a remote directory, directories first and then by name.
func (s *FileService) ListFiles(ctx context.Context, remoteDir string) Result[ListResult] {
	op := newOperation("list")
	dir, err := s.resolver.Resolve(ctx, remoteDir)
	if err != nil {
		return reject[ListResult](ctx, s, op, err)
	}
	op.path = dir

	return execute(ctx, s, op, func(conn sftp.Conn) (ListResult, error) {
		infos, err := conn.ReadDir(dir)
		if err != nil {
			if sftp.IsNotExist(err) {
				return ListResult{}, sftp.NotFoundf("directory %s", dir)
			}
			return ListResult{}, fmt.Errorf("read dir %s: %w", dir, err)
		}

		entries := make([]FileEntry, 0, len(infos))
		for _, info := range infos {
			name := info.Name()
			if name == "." || name == ".." {
				continue
			}
			entries = append(entries, toFileEntry(path.Join(dir, name), info))
		}
		SortEntries(entries)
		op.okMsg = fmt.Sprintf("%d item(s) found", len(entries))
		return ListResult{Path: dir, Entries: entries}, nil
	})
}

// SortEntries orders directories before files, then by case-insensitive name.
func SortEntries(entries []FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		left, right := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if left == right {
			return entries[i].Name < entries[j].Name
		}
		return left < right
	})
}

func toFileEntry(p string, info os.FileInfo) FileEntry {
	return FileEntry{
		Name:         info.Name(),
		Path:         p,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
		IsDirectory:  info.IsDir(),
		Mode:         info.Mode().String(),
	}
}

// CreateDirectory creates remotePath and any missing parents.
func (s *FileService) CreateDirectory(ctx context.Context, remotePath string) Result[PathResult] {
	op := newOperation("mkdir")
	if err := requirePath(remotePath, "path"); err != nil {
		return reject[PathResult](ctx, s, op, err)
	}
	target, err := s.resolver.Resolve(ctx, remotePath)
	if err != nil {
		return reject[PathResult](ctx, s, op, err)
	}
	op.path = target
	op.okMsg = "Directory created"

	return execute(ctx, s, op, func(conn sftp.Conn) (PathResult, error) {
		if err := sftp.EnsureDir(conn, target); err != nil {
			return PathResult{}, err
		}
		return PathResult{Path: target}, nil
	})
}

// FileExists reports whether remotePath exists. Any failure reports false.
func (s *FileService) FileExists(ctx context.Context, remotePath string) bool {
	op := newOperation("exists")
	if requirePath(remotePath, "path") != nil {
		return false
	}
	target, err := s.resolver.Resolve(ctx, remotePath)
	if err != nil {
		return false
	}
	op.path = target

	result := execute(ctx, s, op, func(conn sftp.Conn) (bool, error) {
		probe := sftp.Probe(conn, target)
		if probe.State == sftp.ProbeFailed {
			return false, probe.Err
		}
		return probe.Exists(), nil
	})
	return result.Success && result.Data != nil && *result.Data
}

// MoveFile renames src to dst, creating the destination directory if needed.
func (s *FileService) MoveFile(ctx context.Context, src, dst string) Result[MoveResult] {
	op := newOperation("move")
	source, target, err := s.resolvePair(ctx, src, dst)
	if err != nil {
		return reject[MoveResult](ctx, s, op, err)
	}
	op.path, op.target = source, target
	op.okMsg = "File moved"

	return execute(ctx, s, op, func(conn sftp.Conn) (MoveResult, error) {
		if _, err := s.probeFile(conn, source); err != nil {
			return MoveResult{}, err
		}
		if err := sftp.EnsureDir(conn, remotepath.Parent(target)); err != nil {
			return MoveResult{}, err
		}
		if err := conn.Rename(source, target); err != nil {
			return MoveResult{}, fmt.Errorf("rename %s to %s: %w", source, target, err)
		}
		return MoveResult{Source: source, Destination: target}, nil
	})
}

// CopyFile streams src into dst on the same session.
func (s *FileService) CopyFile(ctx context.Context, src, dst string, obs Observer) Result[MoveResult] {
	op := newOperation("copy")
	source, target, err := s.resolvePair(ctx, src, dst)
	if err != nil {
		return reject[MoveResult](ctx, s, op, err)
	}
	op.path, op.target = source, target
	op.okMsg = "File copied"

	return execute(ctx, s, op, func(conn sftp.Conn) (MoveResult, error) {
		probe, err := s.probeFile(conn, source)
		if err != nil {
			return MoveResult{}, err
		}
		if probe.IsDir {
			return MoveResult{}, sftp.Validationf("%s is a directory", source)
		}
		if err := sftp.EnsureDir(conn, remotepath.Parent(target)); err != nil {
			return MoveResult{}, err
		}

		r, err := conn.Open(source)
		if err != nil {
			return MoveResult{}, fmt.Errorf("open %s: %w", source, err)
		}
		defer r.Close()

		var size int64
		if probe.Info != nil {
			size = probe.Info.Size()
		}
		n, err := writeRemote(conn, target, newProgressReader(r, path.Base(source), size, obs))
		op.bytes = n
		metrics.BytesTransferred.WithLabelValues("copy").Add(float64(n))
		if err != nil {
			return MoveResult{}, err
		}
		return MoveResult{Source: source, Destination: target, Size: n}, nil
	})
}

func (s *FileService) resolvePair(ctx context.Context, src, dst string) (string, string, error) {
	if err := requirePath(src, "source"); err != nil {
		return "", "", err
	}
	if err := requirePath(dst, "destination"); err != nil {
		return "", "", err
	}
	source, err := s.resolver.Resolve(ctx, src)
	if err != nil {
		return "", "", err
	}
	target, err := s.resolver.Resolve(ctx, dst)
	if err != nil {
		return "", "", err
	}
	if source == target {
		return "", "", sftp.Validationf("source and destination are the same")
	}
	return source, target, nil
}

// GetChecksum hashes a remote file. The algorithm is checked before any session is used.
func (s *FileService) GetChecksum(ctx context.Context, remotePath, algorithm string) Result[ChecksumResult] {
	op := newOperation("checksum")
	if err := requirePath(remotePath, "path"); err != nil {
		return reject[ChecksumResult](ctx, s, op, err)
	}
	name, h, err := newChecksumHash(algorithm)
	if err != nil {
		return reject[ChecksumResult](ctx, s, op, err)
	}
	target, err := s.resolver.Resolve(ctx, remotePath)
	if err != nil {
		return reject[ChecksumResult](ctx, s, op, err)
	}
	op.path = target
	op.okMsg = name + " checksum calculated"

	return execute(ctx, s, op, func(conn sftp.Conn) (ChecksumResult, error) {
		probe, err := s.probeFile(conn, target)
		if err != nil {
			return ChecksumResult{}, err
		}
		if probe.IsDir {
			return ChecksumResult{}, sftp.Validationf("%s is a directory", target)
		}
		r, err := conn.Open(target)
		if err != nil {
			return ChecksumResult{}, fmt.Errorf("open %s: %w", target, err)
		}
		defer r.Close()

		n, err := io.Copy(h, r)
		op.bytes = n
		if err != nil {
			return ChecksumResult{}, sftp.Transfer("read "+target, err)
		}
		return ChecksumResult{Path: target, Algorithm: name, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
	})
}

// GetServerInfo reports the connected server and session details.
func (s *FileService) GetServerInfo(ctx context.Context) Result[ServerInfo] {
	op := newOperation("server_info")
	op.okMsg = "Server information retrieved"

	return execute(ctx, s, op, func(conn sftp.Conn) (ServerInfo, error) {
		wd, err := conn.Getwd()
		if err != nil {
			return ServerInfo{}, fmt.Errorf("getwd: %w", err)
		}
		return ServerInfo{
			ServerVersion:    conn.ServerVersion(),
			ProtocolVersion:  conn.ProtocolVersion(),
			IsConnected:      conn.IsConnected(),
			WorkingDirectory: wd,
			Host:             s.server.Host,
			Port:             s.server.Port,
			Username:         s.server.Username,
			SessionMode:      s.manager.Mode().String(),
		}, nil
	})
}

// GetFileInfo returns metadata for one remote entry.
func (s *FileService) GetFileInfo(ctx context.Context, remotePath string) Result[StatResult] {
	op := newOperation("stat")
	if err := requirePath(remotePath, "path"); err != nil {
		return reject[StatResult](ctx, s, op, err)
	}
	target, err := s.resolver.Resolve(ctx, remotePath)
	if err != nil {
		return reject[StatResult](ctx, s, op, err)
	}
	op.path = target
	op.okMsg = "File information retrieved"

	return execute(ctx, s, op, func(conn sftp.Conn) (StatResult, error) {
		probe, err := s.probeFile(conn, target)
		if err != nil {
			return StatResult{}, err
		}
		return StatResult{FileEntry: toFileEntry(target, probe.Info)}, nil
	})
}
