package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sftpgate/internal/remotepath"
	"github.com/charlesng35/sftpgate/internal/session"
	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/internal/sftp/sftptest"
)

// fixedConnector always hands out the same connection.
type fixedConnector struct {
	conn    sftp.Conn
	connect int
}

func (f *fixedConnector) Connect(context.Context) (sftp.Conn, error) {
	f.connect++
	return f.conn, nil
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []OperationRecord
}

func (r *recordingRecorder) Record(_ context.Context, rec OperationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

type testEnv struct {
	conn      *sftptest.Conn
	connector *fixedConnector
	manager   *session.Pool
	recorder  *recordingRecorder
	svc       *FileService
}

func newTestEnv(t *testing.T, root string) *testEnv {
	t.Helper()
	conn := sftptest.NewConn()
	connector := &fixedConnector{conn: conn}
	manager := session.NewPool(connector, 2)
	recorder := &recordingRecorder{}

	svc, err := NewFileService(manager, remotepath.NewResolver(root), ServerIdentity{
		Host:     "sftp.internal",
		Port:     22,
		Username: "svc",
	}, WithRecorder(recorder))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.Zero(t, manager.Stats().InUse, "session leaked")
	})
	return &testEnv{conn: conn, connector: connector, manager: manager, recorder: recorder, svc: svc}
}

func TestListFilesOrdersDirectoriesFirst(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/data/b", []byte("bb"))
	env.conn.AddDir("/data/a")
	env.conn.AddFile("/data/a", []byte("a"))
	env.conn.AddDir("/data/z")

	res := env.svc.ListFiles(context.Background(), "data")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "/data", res.Data.Path)

	var got []string
	for _, entry := range res.Data.Entries {
		kind := "file"
		if entry.IsDirectory {
			kind = "dir"
		}
		got = append(got, kind+":"+entry.Name)
	}
	require.Equal(t, []string{"dir:a", "dir:z", "file:a", "file:b"}, got)
	require.Equal(t, "/data/b", res.Data.Entries[3].Path)
	require.EqualValues(t, 2, res.Data.Entries[3].Size)
}

func TestSortEntriesIgnoresCaseAndDropsNothing(t *testing.T) {
	entries := []FileEntry{
		{Name: "beta"},
		{Name: "Alpha"},
		{Name: "docs", IsDirectory: true},
		{Name: "alpha"},
	}
	SortEntries(entries)
	require.Equal(t, "docs", entries[0].Name)
	require.Equal(t, "Alpha", entries[1].Name)
	require.Equal(t, "alpha", entries[2].Name)
	require.Equal(t, "beta", entries[3].Name)
}

func TestListFilesMissingDirectory(t *testing.T) {
	env := newTestEnv(t, "/")

	res := env.svc.ListFiles(context.Background(), "missing")
	require.False(t, res.Success)
	require.Equal(t, sftp.KindNotFound, res.Kind)
	require.Nil(t, res.Data)
}

func TestGetChecksum(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/hello.txt", []byte("hello"))

	cases := []struct {
		algorithm string
		name      string
		want      string
	}{
		{algorithm: "sha256", name: "SHA256", want: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{algorithm: "", name: "SHA256", want: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{algorithm: "Sha-1", name: "SHA1", want: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{algorithm: "md5", name: "MD5", want: "5d41402abc4b2a76b9719d911017c592"},
	}
	for _, tc := range cases {
		t.Run(tc.name+"/"+tc.algorithm, func(t *testing.T) {
			res := env.svc.GetChecksum(context.Background(), "hello.txt", tc.algorithm)
			require.True(t, res.Success, res.Message)
			require.Equal(t, tc.name, res.Data.Algorithm)
			require.Equal(t, tc.want, res.Data.Checksum)
		})
	}

	res := env.svc.GetChecksum(context.Background(), "hello.txt", "SHA512")
	require.True(t, res.Success)
	require.Len(t, res.Data.Checksum, 128)
}

func TestGetChecksumUnsupportedAlgorithm(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/hello.txt", []byte("hello"))

	res := env.svc.GetChecksum(context.Background(), "hello.txt", "crc32")
	require.False(t, res.Success)
	require.Equal(t, sftp.KindValidation, res.Kind)
	require.Contains(t, res.Message, "unsupported checksum algorithm")
	require.Zero(t, env.connector.connect)
}

func TestUploadFile(t *testing.T) {
	env := newTestEnv(t, "/srv")
	content := bytes.Repeat([]byte("x"), 100_000)

	var (
		mu       sync.Mutex
		progress []TransferProgress
	)
	obs := ObserverFuncs{Transfer: func(p TransferProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}}

	res := env.svc.UploadFile(context.Background(), bytes.NewReader(content), int64(len(content)), `C:\Users\me\report.csv`, "in/2024", obs)
	require.True(t, res.Success, res.Message)
	require.Equal(t, "report.csv", res.Data.FileName)
	require.Equal(t, "/srv/in/2024/report.csv", res.Data.RemotePath)
	require.EqualValues(t, len(content), res.Data.Size)

	stored, ok := env.conn.File("/srv/in/2024/report.csv")
	require.True(t, ok)
	require.Equal(t, content, stored)

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	require.EqualValues(t, len(content), last.BytesTransferred)
	require.Equal(t, 100.0, last.Percentage)
	require.Equal(t, "report.csv", last.FileName)

	require.Len(t, env.recorder.records, 1)
	require.Equal(t, "upload", env.recorder.records[0].Operation)
	require.True(t, env.recorder.records[0].Success)
	require.EqualValues(t, len(content), env.recorder.records[0].Bytes)
}

func TestUploadFileValidation(t *testing.T) {
	env := newTestEnv(t, "/")

	res := env.svc.UploadFile(context.Background(), nil, 10, "a.txt", "", nil)
	require.False(t, res.Success)
	require.Equal(t, sftp.KindValidation, res.Kind)

	res = env.svc.UploadFile(context.Background(), strings.NewReader(""), 0, "a.txt", "", nil)
	require.Equal(t, sftp.KindValidation, res.Kind)

	res = env.svc.UploadFile(context.Background(), strings.NewReader("x"), 1, "  ", "", nil)
	require.Equal(t, sftp.KindValidation, res.Kind)

	res = env.svc.UploadFile(context.Background(), strings.NewReader("x"), 1, "a.txt", "../escape", nil)
	require.Equal(t, sftp.KindValidation, res.Kind)

	require.Zero(t, env.connector.connect)
}

func TestUploadFileStripsDirectoryFromName(t *testing.T) {
	env := newTestEnv(t, "/uploads")

	res := env.svc.UploadFile(context.Background(), strings.NewReader("root:x"), 6, "../../etc/passwd", "", nil)
	require.True(t, res.Success, res.Message)
	require.Equal(t, "/uploads/passwd", res.Data.RemotePath)
}

func TestUploadFileWriteFailure(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.SetError("Write", errors.New("connection lost"))

	res := env.svc.UploadFile(context.Background(), strings.NewReader("hello"), 5, "a.txt", "", nil)
	require.False(t, res.Success)
	require.Equal(t, sftp.KindTransfer, res.Kind)
	require.Contains(t, res.Message, "connection lost")
}

func TestUploadFilesReportsPerFileStatus(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.SetPathError("Create", "/uploads/bad.txt", errors.New("permission denied"))

	var batches []BatchProgress
	obs := ObserverFuncs{Batch: func(p BatchProgress) { batches = append(batches, p) }}

	res := env.svc.UploadFiles(context.Background(), []UploadItem{
		{Name: "one.txt", Content: strings.NewReader("1"), Size: 1},
		{Name: "bad.txt", Content: strings.NewReader("2"), Size: 1},
		{Name: "three.txt", Content: strings.NewReader("3"), Size: 1},
	}, "uploads", obs)

	require.False(t, res.Success)
	require.NotNil(t, res.Data)
	require.Equal(t, 3, res.Data.TotalFiles)
	require.Equal(t, 3, res.Data.ProcessedFiles)
	require.Equal(t, 1, res.Data.FailedFiles)
	require.Len(t, res.Data.Files, 3)
	require.True(t, res.Data.Files[0].Success)
	require.False(t, res.Data.Files[1].Success)
	require.Contains(t, res.Data.Files[1].Message, "permission denied")
	require.True(t, res.Data.Files[2].Success)
	require.Contains(t, res.Message, "1 of 3")

	require.Len(t, batches, 3)
	require.Equal(t, BatchProgress{TotalFiles: 3, ProcessedFiles: 3, FailedFiles: 1, CurrentFile: "three.txt"}, batches[2])

	_, ok := env.conn.File("/uploads/three.txt")
	require.True(t, ok)
	require.Equal(t, 1, env.connector.connect)
}

func TestUploadFilesAllSucceed(t *testing.T) {
	env := newTestEnv(t, "/")

	res := env.svc.UploadFiles(context.Background(), []UploadItem{
		{Name: "a.txt", Content: strings.NewReader("a"), Size: 1},
		{Name: "b.txt", Content: strings.NewReader("b"), Size: 1},
	}, "", nil)
	require.True(t, res.Success, res.Message)
	require.Zero(t, res.Data.FailedFiles)

	empty := env.svc.UploadFiles(context.Background(), nil, "", nil)
	require.Equal(t, sftp.KindValidation, empty.Kind)
}

func TestDownloadFile(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/reports/q1.csv", []byte("a,b,c"))

	res := env.svc.DownloadFile(context.Background(), "reports/q1.csv")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "q1.csv", res.Data.FileName)
	require.Equal(t, []byte("a,b,c"), res.Data.Content)
	require.EqualValues(t, 5, res.Data.Size)

	missing := env.svc.DownloadFile(context.Background(), "reports/q2.csv")
	require.False(t, missing.Success)
	require.Equal(t, sftp.KindNotFound, missing.Kind)

	dir := env.svc.DownloadFile(context.Background(), "reports")
	require.Equal(t, sftp.KindValidation, dir.Kind)

	blank := env.svc.DownloadFile(context.Background(), "")
	require.Equal(t, sftp.KindValidation, blank.Kind)
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/tmp/old.log", []byte("x"))

	res := env.svc.DeleteFile(context.Background(), "/tmp/old.log")
	require.True(t, res.Success, res.Message)
	_, ok := env.conn.File("/tmp/old.log")
	require.False(t, ok)

	again := env.svc.DeleteFile(context.Background(), "/tmp/old.log")
	require.False(t, again.Success)
	require.Equal(t, sftp.KindNotFound, again.Kind)

	root := env.svc.DeleteFile(context.Background(), "/")
	require.Equal(t, sftp.KindValidation, root.Kind)
}

func TestCreateDirectoryAndFileExists(t *testing.T) {
	env := newTestEnv(t, "/")

	require.False(t, env.svc.FileExists(context.Background(), "a/b/c"))

	res := env.svc.CreateDirectory(context.Background(), "a/b/c")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "/a/b/c", res.Data.Path)
	require.True(t, env.svc.FileExists(context.Background(), "a/b/c"))

	res = env.svc.CreateDirectory(context.Background(), "a/b/c")
	require.True(t, res.Success)
	require.Equal(t, 1, env.conn.MkdirCount("/a/b/c"))

	env.conn.SetError("Stat", errors.New("broken pipe"))
	require.False(t, env.svc.FileExists(context.Background(), "a/b/c"))
	require.False(t, env.svc.FileExists(context.Background(), ""))
}

func TestMoveFile(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/inbox/a.txt", []byte("payload"))

	res := env.svc.MoveFile(context.Background(), "inbox/a.txt", "archive/2024/a.txt")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "/inbox/a.txt", res.Data.Source)
	require.Equal(t, "/archive/2024/a.txt", res.Data.Destination)

	_, ok := env.conn.File("/inbox/a.txt")
	require.False(t, ok)
	moved, ok := env.conn.File("/archive/2024/a.txt")
	require.True(t, ok)
	require.Equal(t, "payload", string(moved))

	missing := env.svc.MoveFile(context.Background(), "inbox/a.txt", "archive/b.txt")
	require.Equal(t, sftp.KindNotFound, missing.Kind)

	same := env.svc.MoveFile(context.Background(), "x", "/x")
	require.Equal(t, sftp.KindValidation, same.Kind)
}

func TestCopyFile(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/src/data.bin", []byte("0123456789"))

	var last TransferProgress
	res := env.svc.CopyFile(context.Background(), "src/data.bin", "dst/copy.bin", ObserverFuncs{
		Transfer: func(p TransferProgress) { last = p },
	})
	require.True(t, res.Success, res.Message)
	require.EqualValues(t, 10, res.Data.Size)
	require.Equal(t, 100.0, last.Percentage)

	original, ok := env.conn.File("/src/data.bin")
	require.True(t, ok)
	copied, ok := env.conn.File("/dst/copy.bin")
	require.True(t, ok)
	require.Equal(t, original, copied)

	dir := env.svc.CopyFile(context.Background(), "src", "elsewhere", nil)
	require.Equal(t, sftp.KindValidation, dir.Kind)
}

func TestGetServerInfo(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.Wd = "/home/svc"

	res := env.svc.GetServerInfo(context.Background())
	require.True(t, res.Success, res.Message)
	require.Equal(t, ServerInfo{
		ServerVersion:    "SSH-2.0-FakeSFTP",
		ProtocolVersion:  3,
		IsConnected:      true,
		WorkingDirectory: "/home/svc",
		Host:             "sftp.internal",
		Port:             22,
		Username:         "svc",
		SessionMode:      "exclusive",
	}, *res.Data)
}

func TestGetFileInfo(t *testing.T) {
	env := newTestEnv(t, "/")
	env.conn.AddFile("/docs/readme.md", []byte("# hi"))

	res := env.svc.GetFileInfo(context.Background(), "docs/readme.md")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "readme.md", res.Data.Name)
	require.EqualValues(t, 4, res.Data.Size)
	require.False(t, res.Data.IsDirectory)

	missing := env.svc.GetFileInfo(context.Background(), "docs/none.md")
	require.Equal(t, sftp.KindNotFound, missing.Kind)
}

func TestTenantScopedRoot(t *testing.T) {
	env := newTestEnv(t, "/tenants/{tenantId}")
	ctx := remotepath.WithTenant(context.Background(), "acme")

	res := env.svc.UploadFile(ctx, strings.NewReader("hi"), 2, "hi.txt", "inbox", nil)
	require.True(t, res.Success, res.Message)
	require.Equal(t, "/tenants/acme/inbox/hi.txt", res.Data.RemotePath)
	require.Equal(t, "acme", env.recorder.records[0].TenantID)

	noTenant := env.svc.ListFiles(context.Background(), "")
	require.False(t, noTenant.Success)
	require.Equal(t, sftp.KindValidation, noTenant.Kind)
}

func TestConnectionFailureBecomesFailedResult(t *testing.T) {
	dialer := &sftptest.Dialer{Errors: []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}}
	factory, err := sftp.NewFactory(sftp.Config{Host: "h", Username: "u", Password: "p"}, dialer,
		sftp.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	manager := session.NewPool(factory, 1)

	svc, err := NewFileService(manager, remotepath.NewResolver("/"), ServerIdentity{})
	require.NoError(t, err)

	res := svc.ListFiles(context.Background(), "")
	require.False(t, res.Success)
	require.Equal(t, sftp.KindConnection, res.Kind)
	require.Contains(t, res.Message, "3 attempt(s)")
	require.Zero(t, manager.Stats().InUse)
}

// panickingConn blows up on ReadDir.
type panickingConn struct {
	*sftptest.Conn
}

func (panickingConn) ReadDir(string) ([]os.FileInfo, error) {
	panic("driver bug")
}

func TestPanicIsContainedAndSessionReleased(t *testing.T) {
	connector := &fixedConnector{conn: panickingConn{Conn: sftptest.NewConn()}}
	manager := session.NewPool(connector, 1)
	svc, err := NewFileService(manager, nil, ServerIdentity{})
	require.NoError(t, err)

	res := svc.ListFiles(context.Background(), "")
	require.False(t, res.Success)
	require.Equal(t, sftp.KindUnknown, res.Kind)
	require.Contains(t, res.Message, "driver bug")
	require.Zero(t, manager.Stats().InUse)
}

func TestSyncDirectoryLocalToRemote(t *testing.T) {
	env := newTestEnv(t, "/")
	local := t.TempDir()
	writeLocal(t, local, "a.txt", "A")
	writeLocal(t, local, "sub/b.txt", "B")
	writeLocal(t, local, "sub/deep/c.txt", "C")
	writeLocal(t, local, "sub/deep/d.txt", "D")
	writeLocal(t, local, "other/e.txt", "E")
	env.conn.AddFile("/backup/a.txt", []byte("stale"))

	var events []SyncProgress
	res := env.svc.SyncDirectoryLocalToRemote(context.Background(), local, "backup", ObserverFuncs{
		Sync: func(p SyncProgress) { events = append(events, p) },
	})
	require.True(t, res.Success, res.Message)
	require.Equal(t, 5, res.Data.TotalFiles)
	require.Equal(t, 5, res.Data.ProcessedFiles)
	require.Zero(t, res.Data.FailedFiles)
	require.Equal(t, SyncLocalToRemote, res.Data.Direction)

	for rel, want := range map[string]string{
		"/backup/a.txt":          "A",
		"/backup/sub/b.txt":      "B",
		"/backup/sub/deep/c.txt": "C",
		"/backup/sub/deep/d.txt": "D",
		"/backup/other/e.txt":    "E",
	} {
		got, ok := env.conn.File(rel)
		require.True(t, ok, rel)
		require.Equal(t, want, string(got), rel)
	}

	require.Zero(t, env.conn.MkdirCount("/backup"))
	for _, dir := range []string{"/backup/sub", "/backup/sub/deep", "/backup/other"} {
		require.Equal(t, 1, env.conn.MkdirCount(dir), dir)
	}
	require.Equal(t, 3, env.conn.Calls("Mkdir"))

	require.Len(t, events, 5)
	require.Equal(t, 5, events[4].ProcessedFiles)
	require.Equal(t, SyncLocalToRemote, events[4].Direction)
}

func TestSyncContinuesAfterFileFailure(t *testing.T) {
	env := newTestEnv(t, "/")
	local := t.TempDir()
	writeLocal(t, local, "a.txt", "A")
	writeLocal(t, local, "b.txt", "B")
	writeLocal(t, local, "c.txt", "C")
	env.conn.SetPathError("Create", "/mirror/b.txt", errors.New("disk full"))

	res := env.svc.SyncDirectoryLocalToRemote(context.Background(), local, "mirror", nil)
	require.False(t, res.Success)
	require.NotNil(t, res.Data)
	require.Equal(t, 3, res.Data.ProcessedFiles)
	require.Equal(t, 1, res.Data.FailedFiles)
	require.Equal(t, "b.txt", res.Data.Files[1].FileName)
	require.Contains(t, res.Data.Files[1].Message, "disk full")

	_, ok := env.conn.File("/mirror/c.txt")
	require.True(t, ok)
}

func TestSyncRejectsMissingLocalRoot(t *testing.T) {
	env := newTestEnv(t, "/")

	res := env.svc.SyncDirectoryLocalToRemote(context.Background(), filepath.Join(t.TempDir(), "absent"), "x", nil)
	require.False(t, res.Success)
	require.Equal(t, sftp.KindNotFound, res.Kind)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	res = env.svc.SyncDirectoryLocalToRemote(context.Background(), file, "x", nil)
	require.Equal(t, sftp.KindValidation, res.Kind)
	require.Zero(t, env.connector.connect)
}

func writeLocal(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}
