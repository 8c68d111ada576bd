package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charlesng35/sftpgate/internal/remotepath"
	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/pkg/metrics"
)

type localFile struct {
	abs  string
	rel  string
	size int64
}

// SyncDirectoryLocalToRemote mirrors every regular file under localRoot into
// remoteRoot, overwriting existing remote files. Each remote directory is created
// at most once. A failed file is recorded and the sync carries on.
func (s *FileService) SyncDirectoryLocalToRemote(ctx context.Context, localRoot, remoteRoot string, obs Observer) Result[SyncResult] {
	op := newOperation("sync")
	if err := requirePath(localRoot, "local_root"); err != nil {
		return reject[SyncResult](ctx, s, op, err)
	}
	localRoot = filepath.Clean(localRoot)
	files, err := collectLocalFiles(localRoot)
	if err != nil {
		return reject[SyncResult](ctx, s, op, err)
	}
	target, err := s.resolver.Resolve(ctx, remoteRoot)
	if err != nil {
		return reject[SyncResult](ctx, s, op, err)
	}
	op.path, op.target = localRoot, target
	op.okMsg = fmt.Sprintf("%d file(s) synchronised", len(files))
	obs = observerOrNop(obs)

	return execute(ctx, s, op, func(conn sftp.Conn) (SyncResult, error) {
		result := SyncResult{
			LocalRoot:  localRoot,
			RemoteRoot: target,
			Direction:  SyncLocalToRemote,
			TotalFiles: len(files),
			Files:      make([]FileStatus, 0, len(files)),
		}
		ensurer := sftp.NewDirEnsurer(conn)
		if err := ensurer.Ensure(target); err != nil {
			return result, err
		}

		var firstErr error
		for _, file := range files {
			status, err := s.syncFile(conn, ensurer, target, file, obs)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			op.bytes += status.Size
			result.ProcessedFiles++
			if !status.Success {
				result.FailedFiles++
			}
			result.Files = append(result.Files, status)
			obs.OnSync(SyncProgress{
				BatchProgress: BatchProgress{
					TotalFiles:     result.TotalFiles,
					ProcessedFiles: result.ProcessedFiles,
					FailedFiles:    result.FailedFiles,
					CurrentFile:    file.rel,
				},
				Direction: SyncLocalToRemote,
			})
		}
		if result.FailedFiles > 0 {
			return result, newPartialFailure(result.FailedFiles, result.TotalFiles, firstErr)
		}
		return result, nil
	})
}

func (s *FileService) syncFile(conn sftp.Conn, ensurer *sftp.DirEnsurer, remoteRoot string, file localFile, obs Observer) (FileStatus, error) {
	status := FileStatus{FileName: file.rel}
	fail := func(err error) (FileStatus, error) {
		status.Message = err.Error()
		return status, err
	}

	target, err := remotepath.Join(remoteRoot, file.rel)
	if err != nil {
		return fail(err)
	}
	status.RemotePath = target
	if err := ensurer.Ensure(remotepath.Parent(target)); err != nil {
		return fail(err)
	}

	f, err := os.Open(file.abs)
	if err != nil {
		return fail(fmt.Errorf("open local %s: %w", file.abs, err))
	}
	defer f.Close()

	n, err := writeRemote(conn, target, newProgressReader(f, file.rel, file.size, obs))
	status.Size = n
	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(n))
	if err != nil {
		return fail(err)
	}
	status.Success = true
	return status, nil
}

// collectLocalFiles lists regular files under root in lexical order with slash-separated relative paths.
func collectLocalFiles(root string) ([]localFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sftp.NotFoundf("local directory %s", root)
		}
		return nil, fmt.Errorf("stat local %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, sftp.Validationf("%s is not a directory", root)
	}

	var files []localFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, localFile{abs: p, rel: strings.TrimPrefix(filepath.ToSlash(rel), "./"), size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
